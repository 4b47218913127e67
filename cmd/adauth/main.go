package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/isometry/adauth/internal/auth"
	"github.com/isometry/adauth/internal/config"
	"github.com/isometry/adauth/internal/ldap"
	"github.com/isometry/adauth/internal/models"
	"github.com/isometry/adauth/internal/store"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Quiet unless ADAUTH_LOG asks for more
	level := tfsdklog.WithLevel(hclog.Warn)
	if os.Getenv("ADAUTH_LOG") != "" {
		level = tfsdklog.WithLevelFromEnv("ADAUTH_LOG")
	}
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("adauth"),
		tfsdklog.WithoutLocation(),
		level,
	)

	var err error
	switch args[0] {
	case "login":
		if len(args) != 2 {
			printUsage()
			os.Exit(1)
		}
		err = runLogin(ctx, args[1])
	case "user":
		if len(args) != 2 {
			printUsage()
			os.Exit(1)
		}
		err = runUser(ctx, args[1])
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if errors.Is(err, errRejected) {
		stop()
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatal(err)
	}
}

var errRejected = errors.New("authentication failed")

func printUsage() {
	fmt.Printf("Usage: %s COMMAND\n\n", os.Args[0])
	fmt.Println("Active Directory authentication with local user provisioning")
	fmt.Println("\nCommands:")
	fmt.Println("  login USERNAME    Authenticate USERNAME; the password is read from ADAUTH_PASSWORD or stdin")
	fmt.Println("  user ID           Show the local user with ID")
	fmt.Println("\nConfiguration is read from ADAUTH_* environment variables and .env.")
}

func runLogin(ctx context.Context, username string) error {
	cfg, identities, err := setup()
	if err != nil {
		return err
	}
	defer identities.Close()

	connector, err := ldap.NewConnector(ctx, cfg.ConnectionConfig())
	if err != nil {
		return fmt.Errorf("failed to create directory connector: %w", err)
	}

	directory := cfg.Directory()
	prober := auth.NewProber(connector, directory.SearchBase(), cfg.Timeout, cfg.FetchServerInfo)
	backend := auth.NewBackend(directory, prober, identities)

	password, err := readPassword()
	if err != nil {
		return err
	}

	user, ok, err := backend.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	if !ok {
		tflog.Info(ctx, "Login rejected", map[string]any{"username": username})
		fmt.Println(errRejected)
		return errRejected
	}

	return printUser(ctx, identities, user)
}

func runUser(ctx context.Context, id string) error {
	cfg, identities, err := setup()
	if err != nil {
		return err
	}
	defer identities.Close()

	// Lookups never reach the directory, so no prober is needed.
	backend := auth.NewBackend(cfg.Directory(), nil, identities)
	user, ok, err := backend.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}

	return printUser(ctx, identities, user)
}

func setup() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	identities, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return cfg, identities, nil
}

func printUser(ctx context.Context, identities *store.Store, user *models.User) error {
	fullName := ""
	if profile, err := identities.GetProfileByUserID(ctx, user.ID); err == nil {
		fullName = profile.FullName
	}

	fmt.Printf("id:          %s\n", user.ID)
	fmt.Printf("username:    %s\n", user.Username)
	fmt.Printf("full_name:   %s\n", fullName)
	fmt.Printf("source:      %s\n", user.AuthSource)
	if user.DirectorySID != "" {
		fmt.Printf("sid:         %s\n", user.DirectorySID)
	}
	if user.DirectoryGUID != "" {
		fmt.Printf("guid:        %s\n", user.DirectoryGUID)
	}
	if user.LastLogin != nil {
		fmt.Printf("last_login:  %s\n", user.LastLogin.Format(time.RFC3339))
	}
	return nil
}

func readPassword() (string, error) {
	if password := os.Getenv("ADAUTH_PASSWORD"); password != "" {
		return password, nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
