// Command checkoutctl manages device types, device agent credentials and
// development user tokens.
//
//	checkoutctl add-type NAME
//	checkoutctl add-device --type TYPE --password PASSWORD NAME
//	checkoutctl set-password --password PASSWORD NAME
//	checkoutctl token --uid ID --name NAME [--role admin] [--ttl 1h]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"hardware-checkout-backend/config"
	"hardware-checkout-backend/internal/auth"
	"hardware-checkout-backend/internal/db"
	"hardware-checkout-backend/internal/model"
	"hardware-checkout-backend/internal/store"
)

var errUsage = errors.New("usage: checkoutctl add-type|add-device|set-password|token [flags] [NAME]")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	flags := pflag.NewFlagSet("checkoutctl "+cmd, pflag.ContinueOnError)
	configPath := flags.String("config", envOr("CONFIG_PATH", "./config/config.yaml"), "path to the configuration file")

	switch cmd {
	case "add-type":
		if err := flags.Parse(args); err != nil {
			return err
		}
		name, err := singleArg(flags)
		if err != nil {
			return err
		}
		s, err := openStore(*configPath)
		if err != nil {
			return err
		}
		dt, err := s.CreateDeviceType(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created device type %s (id %d)\n", dt.Name, dt.ID)
		return nil

	case "add-device":
		typeName := flags.String("type", "", "device type name")
		password := flags.String("password", "", "agent password")
		if err := flags.Parse(args); err != nil {
			return err
		}
		name, err := singleArg(flags)
		if err != nil {
			return err
		}
		if *typeName == "" || *password == "" {
			return errors.New("add-device needs --type and --password")
		}
		s, err := openStore(*configPath)
		if err != nil {
			return err
		}
		dt, err := s.FindDeviceTypeByName(ctx, *typeName)
		if err != nil {
			return fmt.Errorf("device type %q: %w", *typeName, err)
		}
		hash, err := auth.HashPassword(*password)
		if err != nil {
			return err
		}
		dev := model.Device{Name: name, DeviceTypeID: dt.ID, State: model.StateWantProvision}
		if err := s.CreateDevice(ctx, &dev, hash); err != nil {
			return err
		}
		fmt.Fprintf(out, "created device %s (id %d, type %s)\n", dev.Name, dev.ID, dt.Name)
		return nil

	case "set-password":
		password := flags.String("password", "", "new agent password")
		if err := flags.Parse(args); err != nil {
			return err
		}
		name, err := singleArg(flags)
		if err != nil {
			return err
		}
		if *password == "" {
			return errors.New("set-password needs --password")
		}
		s, err := openStore(*configPath)
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(*password)
		if err != nil {
			return err
		}
		if err := s.SetDevicePassword(ctx, name, hash); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
		fmt.Fprintf(out, "password of %s updated\n", name)
		return nil

	case "token":
		uid := flags.Int64("uid", 0, "user id")
		name := flags.String("name", "", "user name")
		role := flags.String("role", "", "user role, e.g. admin")
		ttl := flags.Duration("ttl", time.Hour, "token lifetime")
		if err := flags.Parse(args); err != nil {
			return err
		}
		if *uid <= 0 || *name == "" {
			return errors.New("token needs --uid and --name")
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		tok, err := auth.IssueUserToken(*uid, *name, *role, cfg.Auth.JWTSecret, *ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, tok)
		return nil
	}
	return errUsage
}

func singleArg(flags *pflag.FlagSet) (string, error) {
	if flags.NArg() != 1 {
		return "", fmt.Errorf("%s expects exactly one NAME argument", flags.Name())
	}
	return flags.Arg(0), nil
}

func openStore(configPath string) (store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(gormDB), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
