package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kaigoh/pointwallet/internal/pointwallet"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			if err := runToken(os.Args[2:]); err != nil {
				log.Fatal(err)
			}
			return
		case "call":
			if err := runCall(os.Args[2:]); err != nil {
				log.Fatal(err)
			}
			return
		}
	}

	// We DON'T want to be running as root...
	if os.Getuid() == 0 {
		log.Fatalf("Don't run pointwallet as root!")
	}

	configPath := "config.yml"
	if len(os.Args) > 1 && os.Args[1] != "" {
		configPath = os.Args[1]
	}

	if err := pointwallet.Run(configPath); err != nil {
		log.Fatal(err)
	}
}

func runToken(args []string) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := flags.String("config", "config.yml", "config file holding auth.secret")
	subject := flags.String("sub", "cli", "token subject")
	ttl := flags.Duration("ttl", time.Minute, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := pointwallet.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not set in %s", *configPath)
	}
	if *ttl > cfg.Auth.MaxAge() {
		return fmt.Errorf("ttl %s exceeds auth.max_age_seconds (%s)", *ttl, cfg.Auth.MaxAge())
	}
	token, err := pointwallet.IssueHostToken(cfg.Auth.Secret, *subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

func runCall(args []string) error {
	flags := flag.NewFlagSet("call", flag.ContinueOnError)
	url := flags.String("url", "http://127.0.0.1:7410", "pointwallet server URL")
	token := flags.String("token", os.Getenv("POINTWALLET_TOKEN"), "bearer token (default $POINTWALLET_TOKEN)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) < 1 || len(rest) > 2 {
		return fmt.Errorf("usage: pointwallet call [--url URL] [--token TOKEN] <command> ['<json args>']")
	}
	cmd := strings.TrimSpace(rest[0])
	var body json.RawMessage
	if len(rest) == 2 {
		if !json.Valid([]byte(rest[1])) {
			return fmt.Errorf("args must be valid JSON")
		}
		body = json.RawMessage(rest[1])
	}

	out, err := pointwallet.CallCommand(context.Background(), *url, *token, pointwallet.Command(cmd), body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, strings.TrimSpace(string(out)))
	return err
}
