// Command agentbridge launches an agent subprocess and bridges an editor to it.
//
// The editor speaks to agentbridge over stdin/stdout using the same framing
// as the agent. Document events it sends (textDocument/didOpen, didFocus,
// didChange, didSave and didClose) pass through the document cache before
// reaching the agent. Configuration comes from the environment and an
// optional .env file; see package config.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ggoodman/agentbridge/agent"
	"github.com/ggoodman/agentbridge/config"
	"github.com/ggoodman/agentbridge/dispatcher"
	"github.com/ggoodman/agentbridge/executor"
	"github.com/ggoodman/agentbridge/internal/logctx"
	"github.com/ggoodman/agentbridge/protocol"
	"github.com/ggoodman/agentbridge/secrets"
	"github.com/ggoodman/agentbridge/secrets/memory"
	"github.com/ggoodman/agentbridge/secrets/redis"
	"github.com/ggoodman/agentbridge/secrets/sqlite"
	"github.com/ggoodman/agentbridge/stdio"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentbridge:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	if cfg.AgentCommand == "" {
		return errors.New("AGENT_COMMAND is required")
	}
	level, _ := cfg.Level()
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openSecrets(ctx, cfg)
	if err != nil {
		return err
	}
	client, cmd, err := launch(log, cfg, store)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}

	root, _ := os.Getwd()
	if _, err := client.Initialize(ctx, protocol.ClientInfo{
		Name:             "agentbridge",
		Version:          version,
		WorkspaceRootURI: "file://" + filepath.ToSlash(root),
	}); err != nil {
		_ = client.Shutdown(context.Background())
		_ = cmd.Wait()
		return err
	}

	editor := serveEditor(ctx, log, client)

	select {
	case <-ctx.Done():
		log.Info("agentbridge.signal")
	case <-editor.Done():
		log.Info("agentbridge.editor.closed")
	case <-client.Done():
		log.Warn("agentbridge.agent.exited")
	}

	if err := client.Shutdown(context.Background()); err != nil {
		log.Warn("agentbridge.shutdown.fail", slog.String("err", err.Error()))
	}
	_ = editor.Close()
	client.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("wait agent: %w", err)
		}
		log.Warn("agent.process.exit", slog.Int("code", exitErr.ExitCode()))
	}
	return nil
}

// launch starts the agent process and wires a client to it. On success the
// client owns store; on failure store is closed before returning.
func launch(log *slog.Logger, cfg config.Config, store secrets.Store) (client *agent.Client, cmd *exec.Cmd, err error) {
	defer func() {
		if err == nil {
			return
		}
		if cerr := store.Close(); cerr != nil {
			log.Warn("agentbridge.secrets.close_fail", slog.String("err", cerr.Error()))
		}
	}()

	cmd = exec.Command(cfg.AgentCommand, cfg.AgentArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start agent: %w", err)
	}
	log.Info("agent.process.start", slog.String("command", cfg.AgentCommand), slog.Int("pid", cmd.Process.Pid))
	go forwardStderr(log, stderr)

	conn := stdio.NewConn(
		stdio.WithIO(stdout, stdin),
		stdio.WithCloser(stdin),
		stdio.WithLogger(log),
	)
	client = agent.New(conn,
		agent.WithLogger(log),
		agent.WithSecrets(store),
		agent.WithFeaturesFile(cfg.FeaturesFile),
		agent.WithRequestTimeout(cfg.RequestTimeout),
		agent.WithShutdownTimeout(cfg.ShutdownTimeout),
	)
	return client, cmd, nil
}

func openSecrets(ctx context.Context, cfg config.Config) (secrets.Store, error) {
	switch cfg.SecretsBackend {
	case secrets.BackendRedis:
		return redis.Dial(ctx, cfg.RedisAddr, cfg.SecretsKeyPrefix)
	case secrets.BackendSQLite:
		return sqlite.Open(ctx, cfg.SecretsSQLitePath)
	default:
		return memory.New(), nil
	}
}

func forwardStderr(log *slog.Logger, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Info("agent.stderr", slog.String("line", sc.Text()))
	}
}

// serveEditor reads document events from the editor on stdin and forwards
// them to the agent through the client.
func serveEditor(ctx context.Context, log *slog.Logger, client *agent.Client) *stdio.Conn {
	serial := executor.NewSerial(executor.WithLogger(log))
	d := dispatcher.New(serial, dispatcher.WithLogger(log))

	forward := map[protocol.Method]func(context.Context, protocol.TextDocument) error{
		protocol.TextDocumentDidOpenMethod:   client.DidOpen,
		protocol.TextDocumentDidFocusMethod:  client.DidFocus,
		protocol.TextDocumentDidChangeMethod: client.DidChange,
		protocol.TextDocumentDidSaveMethod:   client.DidSave,
		protocol.TextDocumentDidCloseMethod:  client.DidClose,
	}
	for method, fn := range forward {
		if err := dispatcher.HandleNotification(d, string(method), fn); err != nil {
			log.Error("agentbridge.editor.register_fail", slog.String("method", string(method)), slog.String("err", err.Error()))
		}
	}

	conn := stdio.NewConn(stdio.WithIO(os.Stdin, os.Stdout), stdio.WithLogger(log))
	go func() {
		defer serial.Close()
		if err := conn.Serve(ctx, d); err != nil {
			log.Error("agentbridge.editor.fail", slog.String("err", err.Error()))
		}
	}()
	return conn
}
