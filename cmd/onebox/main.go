package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/nhle/onebox/internal/classify"
	"github.com/nhle/onebox/internal/credential"
	"github.com/nhle/onebox/internal/mailbox"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/pipeline"
	"github.com/nhle/onebox/internal/store"
	syncpkg "github.com/nhle/onebox/internal/sync"
	"github.com/nhle/onebox/internal/web"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	setPassword := flag.String("set-password", "",
		"prompt for the IMAP password of the given account id, store it in the keyring, and exit")
	deletePassword := flag.String("delete-password", "",
		"remove the stored IMAP password of the given account id and exit")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if *setPassword != "" {
		if err := storePassword(*setPassword); err != nil {
			log.Fatal().Err(err).Str("account", *setPassword).Msg("storing password")
		}
		log.Info().Str("account", *setPassword).Msg("password stored")
		return
	}
	if *deletePassword != "" {
		if err := credential.Delete(credential.AccountKey(*deletePassword)); err != nil {
			log.Fatal().Err(err).Str("account", *deletePassword).Msg("deleting password")
		}
		log.Info().Str("account", *deletePassword).Msg("password deleted")
		return
	}

	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("onebox exited")
	}
}

// storePassword reads a password from the terminal (or stdin when piped)
// and stores it under the account's keyring key.
func storePassword(accountID string) error {
	fmt.Fprintf(os.Stderr, "Password for %s: ", accountID)

	var password string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		return fmt.Errorf("empty password")
	}
	return credential.Set(credential.AccountKey(accountID), password)
}

func run(configPath string, log zerolog.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		log.Warn().Str("config", configPath).Msg("no accounts configured")
	}

	// Passwords left out of the config file come from the keyring.
	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]
		if acct.Password != "" {
			continue
		}
		pw, err := credential.Get(credential.AccountKey(acct.ID))
		if err != nil {
			log.Warn().Err(err).Str("account", acct.ID).Msg("no stored password")
			continue
		}
		acct.Password = pw
	}

	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	classifier := classify.NewClaude(cfg.AI, log)
	if cfg.AI.APIKey == "" {
		log.Warn().Msg("no AI key configured, using keyword classification only")
	}

	timeout := time.Duration(cfg.Notify.TimeoutSec) * time.Second
	var channels []notify.Channel
	if cfg.Notify.SlackWebhookURL != "" {
		channels = append(channels, notify.NewSlackChannel(cfg.Notify.SlackWebhookURL, timeout))
	}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.WebhookURL, timeout))
	}
	notifier := notify.NewNotifier(log, channels...)

	pipe := pipeline.New(classifier, st, notifier, log)

	window := time.Duration(cfg.Sync.WindowDays) * 24 * time.Hour
	manager := syncpkg.NewManager(pipe, mailbox.DialIMAP, window, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx, cfg.Accounts)

	server := web.NewServer(
		cfg.Server.Addr, st, pipe, manager, notifier, classifier, cfg.Accounts, log,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			manager.Stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	manager.Stop()
	return nil
}
