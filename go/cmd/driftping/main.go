// Copyright 2025 The DriftDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// driftping dials a DriftDB server, runs the authentication handshake, and
// reports the negotiated server version and handshake latency. It exercises
// exactly the code path every driver connection takes, which makes it useful
// as a liveness and credential check.
package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/driftdb/driftdb-go/go/driftprotocol/client"
)

const (
	exitDriverError = 1
	exitAuthError   = 2
)

func main() {
	root := rootCommand()
	if err := root.Execute(); err != nil {
		slog.Error("Handshake failed", "error", err)
		if client.IsAuthError(err) {
			os.Exit(exitAuthError)
		}
		os.Exit(exitDriverError)
	}
}

func rootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "driftping",
		Short: "Check connectivity and credentials against a DriftDB server",
		Long: `driftping opens a connection to a DriftDB server, performs the
SCRAM-SHA-256 authentication handshake, and prints the server version.

Exit codes distinguish failure classes: 1 for connection or protocol
problems (retryable on a fresh connection), 2 for rejected credentials
(never retry with the same password).

Flags can also be set through DRIFTPING_* environment variables, e.g.
DRIFTPING_PASSWORD.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			v.SetEnvPrefix("DRIFTPING")
			v.AutomaticEnv()
			setupLogging(v.GetString("log-level"))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}

	addFlags(root.Flags())

	return root
}

func addFlags(fs *pflag.FlagSet) {
	fs.String("host", "localhost", "DriftDB server hostname or IP address")
	fs.Int("port", 28015, "DriftDB server port")
	fs.StringP("user", "u", "admin", "User name to authenticate as")
	fs.StringP("password", "p", "", "Authentication key (prefer DRIFTPING_PASSWORD)")
	fs.Duration("connect-timeout", 20*time.Second, "TCP connect and TLS handshake timeout")
	fs.Duration("timeout", 20*time.Second, "Per-read and per-write timeout during the handshake")
	fs.Bool("tls", false, "Wrap the connection in TLS before the handshake")
	fs.Bool("tls-skip-verify", false, "Skip TLS certificate verification (testing only)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	config := &client.Config{
		Host:         v.GetString("host"),
		Port:         v.GetInt("port"),
		User:         v.GetString("user"),
		Password:     v.GetString("password"),
		DialTimeout:  v.GetDuration("connect-timeout"),
		ReadTimeout:  v.GetDuration("timeout"),
		WriteTimeout: v.GetDuration("timeout"),
	}
	if v.GetBool("tls") {
		config.TLSConfig = &tls.Config{
			ServerName:         config.Host,
			InsecureSkipVerify: v.GetBool("tls-skip-verify"),
		}
	}

	slog.Info("Connecting", "host", config.Host, "port", config.Port, "user", config.User, "tls", config.TLSConfig != nil)

	start := time.Now()
	conn, err := client.Connect(cmd.Context(), config)
	if err != nil {
		return err
	}
	defer conn.Close()
	elapsed := time.Since(start)

	slog.Info("Handshake complete",
		"server_version", conn.ServerVersion(),
		"remote_addr", conn.RemoteAddr().String(),
		"duration", elapsed,
	)
	if leftover := conn.Leftover(); len(leftover) > 0 {
		return errors.New("server sent unexpected data after the handshake")
	}
	fmt.Printf("%s: ok (%s, %s)\n", conn.RemoteAddr(), conn.ServerVersion(), elapsed.Round(time.Millisecond))
	return nil
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
