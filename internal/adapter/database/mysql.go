package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/bbscout/dbbackup/internal/domain"
)

const stderrTailSize = 4096

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

type MySQLDumper struct {
	binary      string
	pingTimeout time.Duration
	command     commandFunc
}

func NewMySQL(binary string) *MySQLDumper {
	if binary == "" {
		binary = "mysqldump"
	}
	return &MySQLDumper{
		binary:      binary,
		pingTimeout: 10 * time.Second,
		command:     exec.CommandContext,
	}
}

// Dump runs mysqldump against conn and streams its stdout into w. The
// password reaches the process through MYSQL_PWD, never its argument list.
func (m *MySQLDumper) Dump(ctx context.Context, conn domain.ConnectionSpec, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := m.command(ctx, m.binary, dumpArgs(conn)...)
	cmd.Env = append(cmd.Environ(), "MYSQL_PWD="+conn.Password)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mysqldump stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("mysqldump stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mysqldump: %w", err)
	}

	var written int64
	tail := &tailBuffer{limit: stderrTailSize}

	var g errgroup.Group
	g.Go(func() error {
		n, err := io.Copy(w, stdout)
		written = n
		if err != nil {
			// Stop the dump so it does not block on a pipe nobody reads.
			cancel()
			return fmt.Errorf("write dump output: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := io.Copy(tail, stderr)
		return err
	})

	copyErr := g.Wait()
	waitErr := cmd.Wait()

	switch {
	case copyErr != nil:
		return copyErr
	case waitErr != nil:
		if msg := tail.String(); msg != "" {
			return fmt.Errorf("mysqldump failed: %w, output: %s", waitErr, msg)
		}
		return fmt.Errorf("mysqldump failed: %w", waitErr)
	case written == 0:
		return errors.New("mysqldump produced no output")
	}

	return nil
}

// Ping opens a short-lived connection with go-sql-driver/mysql. An empty port
// falls back to the driver's default.
func (m *MySQLDumper) Ping(ctx context.Context, conn domain.ConnectionSpec) error {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = conn.Host
	if conn.Port != "" {
		cfg.Addr = net.JoinHostPort(conn.Host, conn.Port)
	}
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.DBName = conn.Database
	cfg.Timeout = m.pingTimeout

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}

// dumpArgs requests a consistent, portable, complete dump: one transaction,
// routines, triggers and events included, GTID state left out.
func dumpArgs(conn domain.ConnectionSpec) []string {
	args := []string{"--host=" + conn.Host}
	if conn.Port != "" {
		args = append(args, "--port="+conn.Port)
	}
	if conn.User != "" {
		args = append(args, "--user="+conn.User)
	}
	return append(args,
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		"--set-gtid-purged=OFF",
		"--no-tablespaces",
		conn.Database,
	)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
