package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/netpush-network/netpush/pkg/audit"
	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/deploy"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/inventory"
	"github.com/netpush-network/netpush/pkg/metrics"
	"github.com/netpush-network/netpush/pkg/session"
	"github.com/netpush-network/netpush/pkg/settings"
	"github.com/netpush-network/netpush/pkg/transaction"
	"github.com/netpush-network/netpush/pkg/util"
)

// stack is everything one deploy invocation builds, closed together.
type stack struct {
	pool     *session.Pool
	store    backup.Store
	audit    *audit.FileLogger
	metrics  *metrics.Metrics
	deployer *deploy.Deployer
}

// newStack wires the session pool, backup store, engine and deployer from
// the resolved settings. concurrency overrides the settings when positive;
// save forces saving to startup configuration on top of the setting.
func newStack(s *settings.Settings, concurrency int, save bool) (*stack, error) {
	st := &stack{metrics: metrics.New()}

	dialer := &session.Dialer{KnownHostsFile: s.KnownHostsFile}
	st.pool = session.NewPool(dialer,
		session.WithMaxIdle(s.GetMaxIdle()),
		session.WithObserver(st.metrics),
	)

	util.Debugf("Backup store: %s at %s", s.GetBackupBackend(), s.GetBackupLocation())
	store, err := backup.Open(s.GetBackupBackend(), s.GetBackupLocation())
	if err != nil {
		st.pool.Close()
		return nil, fmt.Errorf("opening backup store: %w", err)
	}
	st.store = store

	opts := []deploy.Option{deploy.WithMetrics(st.metrics)}
	if concurrency <= 0 {
		concurrency = s.GetConcurrency()
	}
	opts = append(opts, deploy.WithConcurrency(concurrency))

	auditLogger, err := audit.NewFileLogger(s.GetAuditLog(), audit.RotationConfig{
		MaxSize:    10 * 1024 * 1024, // 10MB
		MaxBackups: 10,
	})
	if err != nil {
		util.Warnf("Could not initialize audit logging: %v", err)
	} else {
		st.audit = auditLogger
		opts = append(opts, deploy.WithAudit(auditLogger, currentUser(s)))
	}

	policy := transaction.DefaultRetryPolicy()
	policy.MaxAttempts = s.GetRetryAttempts()
	policy.InitialInterval = s.GetRetryInterval()
	engine := transaction.New(st.pool, st.store,
		transaction.WithRetryPolicy(policy),
		transaction.WithMetrics(st.metrics),
		transaction.WithSaveConfig(save || s.SaveConfig),
	)
	st.deployer = deploy.New(engine, opts...)
	return st, nil
}

func (st *stack) Close() {
	if err := st.pool.Close(); err != nil {
		util.Warnf("Closing sessions: %v", err)
	}
	if err := st.store.Close(); err != nil {
		util.Warnf("Closing backup store: %v", err)
	}
	if st.audit != nil {
		st.audit.Close()
	}
}

// currentUser names the operator in audit and job records.
func currentUser(s *settings.Settings) string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if s.Username != "" {
		return s.Username
	}
	return "unknown"
}

// resolveTargets picks devices from the inventory and fills missing
// credentials from settings, prompting for the password when asked.
func resolveTargets(s *settings.Settings, inventoryFile string, refs []string, group string, askPass bool) ([]device.Target, error) {
	if inventoryFile == "" {
		inventoryFile = s.InventoryFile
	}
	if inventoryFile == "" {
		return nil, fmt.Errorf("inventory required: use --inventory or 'netpush settings set inventory_file <path>'")
	}
	inv, err := inventory.Load(inventoryFile)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range refs {
		names = append(names, util.SplitCommaSeparated(r)...)
	}
	targets, err := inv.Select(names, group)
	if err != nil {
		return nil, err
	}

	creds := device.Credentials{Username: s.Username, Password: s.Password, Secret: s.Secret}
	if askPass {
		pw, err := readPassword("Password: ")
		if err != nil {
			return nil, err
		}
		creds.Password = pw
	}
	for i := range targets {
		if askPass {
			targets[i].Credentials.Password = ""
		}
		inventory.FillCredentials(&targets[i], creds)
		if s.Timeout != "" && targets[i].Timeout == 0 {
			targets[i].Timeout = s.GetTimeout()
		}
	}
	return targets, nil
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-pass needs a terminal on stdin")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
