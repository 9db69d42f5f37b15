// Command auditwatch is a terminal notification center for the audit
// marketplace. It signs in to the backend, subscribes to the signed-in
// user's realtime channels and shows incoming notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/app"
	"github.com/nhle/auditwatch/internal/backend"
	"github.com/nhle/auditwatch/internal/credential"
	"github.com/nhle/auditwatch/internal/logging"
	"github.com/nhle/auditwatch/internal/model"
	"github.com/nhle/auditwatch/internal/realtime"
	"github.com/nhle/auditwatch/internal/session"
	"github.com/nhle/auditwatch/internal/store"
	"github.com/nhle/auditwatch/internal/ui/signin"
)

const (
	authTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "auditwatch:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	signOut := flag.Bool("sign-out", false, "revoke the stored session and exit")
	flag.Parse()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	var creds *signin.Values
	if cfg.Backend.URL == "" || cfg.Backend.AnonKey == "" {
		creds, err = promptProject(*configPath, cfg)
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	vault, err := credential.Open()
	if err != nil {
		return err
	}

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey)

	if *signOut {
		return runSignOut(client, vault, cfg.Backend.URL, log)
	}

	sess, err := restoreSession(client, vault, cfg.Backend.URL, creds, log)
	if err != nil {
		return err
	}

	ctx := context.Background()

	history, err := store.Open(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer history.Close()

	endpoint, err := realtime.EndpointURL(cfg.Backend.URL, cfg.Backend.AnonKey)
	if err != nil {
		return err
	}
	dialer := realtime.NewDialer(endpoint, sess.AccessToken, cfg.HeartbeatInterval(), log)
	defer dialer.Close()

	notifications, err := session.Open(ctx, session.Deps{
		History:   history,
		Transport: dialer,
		Prober:    client,
		Config:    *cfg,
		Log:       log,
	}, sess.UserID())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := notifications.Close(ctx); err != nil {
			log.WithError(err).Warn("closing session")
		}
	}()

	client.OnAuthChange(func(ev backend.AuthEvent) {
		log.WithField("kind", ev.Kind).Info("auth state changed")
		if ev.Session != nil {
			dialer.SetAccessToken(ev.Session.AccessToken)
			if err := vault.SaveSession(cfg.Backend.URL, ev.Session); err != nil {
				log.WithError(err).Warn("storing refreshed session")
			}
		}
		notifications.NotifyAuthChange()
	})

	notifications.Notify(
		"Signed in",
		"Listening for messages, audit updates and payments.",
		model.TypeSuccess,
		model.CategorySystem,
	)

	p := tea.NewProgram(app.New(notifications), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}

// promptProject asks for the backend project and the user's credentials,
// saves the project to the config file and returns the credentials.
func promptProject(configPath string, cfg *model.AppConfig) (*signin.Values, error) {
	v := signin.Values{ProjectURL: cfg.Backend.URL, AnonKey: cfg.Backend.AnonKey}
	if err := signin.Prompt(&v, true); err != nil {
		return nil, fmt.Errorf("reading project settings: %w", err)
	}
	cfg.Backend.URL = v.ProjectURL
	cfg.Backend.AnonKey = v.AnonKey
	if err := model.SaveConfig(configPath, cfg); err != nil {
		return nil, err
	}
	return &v, nil
}

// restoreSession installs the stored session when it is still valid,
// refreshing it if needed, and otherwise signs in with creds or prompts
// for them.
func restoreSession(
	client *backend.Client,
	vault *credential.Vault,
	projectURL string,
	creds *signin.Values,
	log logrus.FieldLogger,
) (*backend.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	stored, err := vault.LoadSession(projectURL)
	switch {
	case err == nil:
		client.SetSession(stored)
		ok, err := client.CheckAuth(ctx)
		if err != nil {
			// Offline: keep the stored session, the health monitor reports
			// the outage.
			log.WithError(err).Warn("could not verify stored session")
			return stored, nil
		}
		if ok {
			return client.Session(), nil
		}
		if s, err := client.Refresh(ctx); err == nil {
			return s, vault.SaveSession(projectURL, s)
		}
		log.Info("stored session expired")
	case errors.Is(err, backend.ErrNoSession):
	default:
		log.WithError(err).Warn("ignoring unreadable stored session")
	}

	if creds == nil {
		creds = &signin.Values{}
		if err := signin.Prompt(creds, false); err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
	}
	s, err := client.SignIn(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	if err := vault.SaveSession(projectURL, s); err != nil {
		log.WithError(err).Warn("storing session")
	}
	return s, nil
}

func runSignOut(
	client *backend.Client,
	vault *credential.Vault,
	projectURL string,
	log logrus.FieldLogger,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	if stored, err := vault.LoadSession(projectURL); err == nil {
		client.SetSession(stored)
		if err := client.SignOut(ctx); err != nil {
			log.WithError(err).Warn("revoking session")
		}
	}
	if err := vault.Forget(projectURL); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}
