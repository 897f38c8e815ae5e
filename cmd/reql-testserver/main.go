package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/testserver"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:               "reql-testserver",
		Short:             "Embedded ReQL server for local testing",
		PersistentPreRunE: persistentPreRunE,
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Serves ReQL queries until interrupted",
		RunE:  runTestServer,
	}

	runCmd.Flags().String("addr", "127.0.0.1:28015", "address to listen on for client connections")
	runCmd.Flags().String("data", "", "bbolt file to keep data in; memory when empty")
	runCmd.Flags().String("name", "reql_testserver", "server name reported to clients")
	runCmd.Flags().String("admin-password", "", "password of the admin user")
	runCmd.Flags().StringToString("user", nil, "additional users as name=password")
	runCmd.Flags().String("metrics-addr", "", "address to serve prometheus metrics on; disabled when empty")
	runCmd.Flags().String("changelog", "", "file to append every committed write to")

	var changelogCmd = &cobra.Command{
		Use:   "changelog FILE",
		Short: "Prints the writes recorded in a changelog file",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpChangelog,
	}

	rootCmd.AddCommand(runCmd, changelogCmd)
	rootCmd.PersistentFlags().String("log-level", "info", "verbosity of logging (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "output logs as JSON")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTestServer(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	addr, _ := flags.GetString("addr")
	data, _ := flags.GetString("data")
	name, _ := flags.GetString("name")
	password, _ := flags.GetString("admin-password")
	users, _ := flags.GetStringToString("user")
	metricsAddr, _ := flags.GetString("metrics-addr")
	changelog, _ := flags.GetString("changelog")

	srv, err := testserver.Start(testserver.Options{
		Logger:        reql.NewLogger(log.Logger, slogLevel(zerolog.GlobalLevel())),
		Addr:          addr,
		Path:          data,
		ChangelogPath: changelog,
		Name:          name,
		AdminPassword: password,
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	for user, pw := range users {
		if err := srv.AddUser(user, pw); err != nil {
			return err
		}
	}
	log.Info().Str("addr", srv.Addr()).Str("data", data).Msg("testserver started listening")

	if metricsAddr != "" {
		ms := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server failed")
			}
		}()
		defer ms.Close()
	}

	signalctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-signalctx.Done()
	log.Info().Msg("received interrupt")
	return nil
}

func dumpChangelog(cmd *cobra.Command, args []string) error {
	commits, err := testserver.ReadChangelog(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range commits {
		for _, w := range c.Writes {
			line := reql.Object{
				"time":    reql.NewTime(c.Time),
				"db":      reql.String(w.DB),
				"table":   reql.String(w.Table),
				"old_val": orNull(w.Old),
				"new_val": orNull(w.New),
			}
			raw, err := reql.MarshalDatum(line)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", raw)
		}
	}
	return nil
}

func orNull(d reql.Datum) reql.Datum {
	if d == nil {
		return reql.NullDatum
	}
	return d
}

func slogLevel(l zerolog.Level) slog.Level {
	switch {
	case l <= zerolog.DebugLevel:
		return slog.LevelDebug
	case l == zerolog.InfoLevel:
		return slog.LevelInfo
	case l == zerolog.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func persistentPreRunE(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if !asJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, _ := cmd.Flags().GetString("log-level")
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		return errors.New("unknown log level")
	}
	log.Debug().Str("new level", level).Msg("set log level")
	return nil
}
