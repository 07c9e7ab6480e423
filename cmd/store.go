package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/sw33tLie/wascope/internal/utils"
	"github.com/sw33tLie/wascope/pkg/bulkcheck"
	"github.com/sw33tLie/wascope/pkg/session"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

// openStore resolves the database path, takes the file lock and opens
// the session store. The returned cleanup releases both.
func openStore() (*session.Store, func(), error) {
	dbPath, _ := rootCmd.PersistentFlags().GetString("dbpath")
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, nil, err
	}

	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, nil, err
	}

	store, err := session.Open(absPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, err
	}

	cleanup := func() {
		_ = store.Close()
		_ = lock.Unlock()
	}
	return store, cleanup, nil
}

// settingsFromConfig builds a settings snapshot from viper defaults and
// config file values. Command flags may override fields afterwards.
func settingsFromConfig() session.Settings {
	return session.Settings{
		APIKey:         viper.GetString("wadata.apikey"),
		BaseURL:        viper.GetString("wadata.baseurl"),
		MaxRetries:     viper.GetInt("check.maxretries"),
		RetryDelay:     time.Duration(viper.GetInt("check.retrydelayms")) * time.Millisecond,
		Backoff:        viper.GetString("check.backoff"),
		Timeout:        time.Duration(viper.GetInt("check.timeoutms")) * time.Millisecond,
		Concurrency:    viper.GetInt("check.concurrency"),
		ThrowOnLimit:   viper.GetBool("check.throwonlimit"),
		StopOnError:    viper.GetBool("check.stoponerror"),
		RateLimitFloor: viper.GetInt("check.ratelimitfloor"),
	}
}

// runSession drives the engine for a session with live progress logging
// and Ctrl-C cancellation.
func runSession(store *session.Store, sess *session.Session) (*session.Session, error) {
	proxy, _ := rootCmd.PersistentFlags().GetString("proxy")
	client, err := wadata.NewAPIClient(wadata.ClientOptions{
		APIKey:  sess.Settings.APIKey,
		BaseURL: sess.Settings.BaseURL,
		Timeout: sess.Settings.Timeout,
		Proxy:   proxy,
	})
	if err != nil {
		// Run without a client so the engine marks the session as
		// errored before we surface the configuration problem.
		utils.Log.Errorf("Could not build API client: %v", err)
		return bulkcheck.Run(context.Background(), bulkcheck.Config{Store: store, Log: utils.Log}, sess)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bulkcheck.Config{
		Client: client,
		Store:  store,
		Log:    utils.Log,
		OnProgress: func(p bulkcheck.Progress) {
			utils.Log.Infof("[%d/%d] (%d%%) %s -> %s", p.Completed, p.Total, p.Percentage, p.CurrentNumber, wadata.Classify(p.Result))
		},
		OnRateLimit: func(info wadata.RateLimitInfo) {
			utils.Log.Warnf("Rate limit: %d/%d requests left, resets at %s",
				info.Remaining, info.Limit, time.Unix(info.Reset, 0).Format(time.RFC3339))
		},
	}

	return bulkcheck.Run(ctx, cfg, sess)
}
