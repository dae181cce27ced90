package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tmsylvan/corrigo/internal/api"
	"github.com/tmsylvan/corrigo/internal/backend"
	"github.com/tmsylvan/corrigo/internal/blob"
	"github.com/tmsylvan/corrigo/internal/config"
	"github.com/tmsylvan/corrigo/internal/engine"
	"github.com/tmsylvan/corrigo/internal/outcome"
	"github.com/tmsylvan/corrigo/internal/session"
	"github.com/tmsylvan/corrigo/internal/stats"
	"github.com/tmsylvan/corrigo/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the submission HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("corrigo: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"blob_dir", cfg.BlobDir,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	var reporter outcome.Reporter = outcome.NopReporter{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		reporter = outcome.NewRedisReporter(rdb, cfg.OutcomeStream)
		logger.Info("grade reporting enabled", "redis_addr", cfg.RedisAddr, "stream", cfg.OutcomeStream)
	}

	client := backend.NewLocalClient(cfg.JobConcurrency, cfg.JobTimeout, logger)
	client.Register(&backend.EchoRunner{})
	defer client.Close()

	dir, auth, err := loadIdentity(cfg.SessionsPath)
	if err != nil {
		return fmt.Errorf("load identity file: %w", err)
	}

	eng := engine.NewManager(db, blobs, client, dir,
		stats.NewStoreRecorder(db, logger), reporter, logger)

	// Reclaim submissions orphaned by the previous incarnation before any
	// new admission can observe them.
	recovered, err := eng.RecoverOrphaned(cmd.Context())
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}
	logger.Info("recovery sweep complete", "recovered", recovered)

	tasks := api.NewStaticTasks()
	if cfg.TasksPath != "" {
		tasks, err = api.LoadTasksFile(cfg.TasksPath)
		if err != nil {
			return fmt.Errorf("load tasks: %w", err)
		}
	}

	srv := api.NewServer(cfg.ListenAddr, eng, db, auth, dir, tasks, logger)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// identityFile is the JSON shape of the sessions/groups/staff fixture used by
// local deployments. Real installations replace the token authenticator and
// directory with the platform's user service.
type identityFile struct {
	Sessions map[string]*session.Session `json:"sessions"`
	Groups   map[string][][]string       `json:"groups"`
	Staff    map[string][]string         `json:"staff"`
}

func loadIdentity(path string) (session.Directory, *session.TokenAuthenticator, error) {
	dir := session.NewStaticDirectory()
	auth := session.NewTokenAuthenticator(nil)
	if path == "" {
		return dir, auth, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read identity file: %w", err)
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("decode identity file: %w", err)
	}

	for token, sess := range f.Sessions {
		auth.Add(token, sess)
	}
	for courseID, groups := range f.Groups {
		for _, members := range groups {
			dir.AddGroup(courseID, members...)
		}
	}
	for courseID, staff := range f.Staff {
		for _, username := range staff {
			dir.AddStaff(courseID, username)
		}
	}
	return dir, auth, nil
}
