package store

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nmslite/netmon/internal/database"
	"github.com/nmslite/netmon/internal/model"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func pgErrCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func parseIP(ip string) (netip.Addr, error) {
	addr, err := database.StringToInet(ip)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid ip address %q: %w", ip, err)
	}
	return addr, nil
}

// Devices

const deviceColumns = `id, name, ip_address, poll_icmp, poll_snmp, snmp_credential_id, snmp_port,
	poll_interval_seconds, is_active, vendor, model, device_type, os_family,
	icmp_status, snmp_status, status, latency_ms, last_poll, last_icmp_poll, last_snmp_poll,
	created_at, updated_at`

func scanDevice(row pgx.Row) (*model.Device, error) {
	var (
		d    model.Device
		addr netip.Addr
	)
	err := row.Scan(&d.ID, &d.Name, &addr, &d.PollICMP, &d.PollSNMP, &d.SNMPCredentialID, &d.SNMPPort,
		&d.PollIntervalSeconds, &d.IsActive, &d.Vendor, &d.Model, &d.DeviceType, &d.OSFamily,
		&d.ICMPStatus, &d.SNMPStatus, &d.Status, &d.LatencyMs, &d.LastPoll, &d.LastICMPPoll, &d.LastSNMPPoll,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.IPAddress = database.InetToString(addr)
	return &d, nil
}

func (p *Postgres) ListDueDevices(ctx context.Context, now time.Time) ([]model.Device, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE is_active
		  AND (last_poll IS NULL OR last_poll + make_interval(secs => poll_interval_seconds) <= $1)
		ORDER BY ip_address`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due devices: %w", err)
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (p *Postgres) GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	d, err := scanDevice(p.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	return d, notFound(err)
}

func (p *Postgres) GetDeviceByIP(ctx context.Context, ip string) (*model.Device, error) {
	addr, err := parseIP(ip)
	if err != nil {
		return nil, err
	}
	d, err := scanDevice(p.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE ip_address = $1`, addr))
	return d, notFound(err)
}

func (p *Postgres) CreateDevice(ctx context.Context, d *model.Device) error {
	addr, err := parseIP(d.IPAddress)
	if err != nil {
		return err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = model.StatusUnknown
	}
	if d.ICMPStatus == "" {
		d.ICMPStatus = model.StatusUnknown
	}
	if d.SNMPStatus == "" {
		d.SNMPStatus = model.StatusUnknown
	}
	if d.SNMPPort == 0 {
		d.SNMPPort = 161
	}
	if d.PollIntervalSeconds == 0 {
		d.PollIntervalSeconds = model.DefaultPollIntervalSeconds
	}

	err = p.pool.QueryRow(ctx, `INSERT INTO devices (id, name, ip_address, poll_icmp, poll_snmp,
			snmp_credential_id, snmp_port, poll_interval_seconds, is_active,
			vendor, model, device_type, os_family, icmp_status, snmp_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, addr, d.PollICMP, d.PollSNMP, d.SNMPCredentialID, d.SNMPPort,
		d.PollIntervalSeconds, d.IsActive, d.Vendor, d.Model, d.DeviceType, d.OSFamily,
		d.ICMPStatus, d.SNMPStatus, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		switch code, _ := pgErrCode(err); code {
		case pgUniqueViolation:
			return ErrDuplicateIP
		case pgForeignKeyViolation:
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateDeviceStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error {
	tag, err := p.pool.Exec(ctx, `UPDATE devices SET
			icmp_status    = COALESCE($2, icmp_status),
			snmp_status    = COALESCE($3, snmp_status),
			status         = $4,
			latency_ms     = COALESCE($5, latency_ms),
			last_poll      = $6,
			last_icmp_poll = COALESCE($7, last_icmp_poll),
			last_snmp_poll = COALESCE($8, last_snmp_poll),
			updated_at     = now()
		WHERE id = $1`,
		id, u.ICMPStatus, u.SNMPStatus, u.Status, u.LatencyMs, u.LastPoll, u.LastICMPPoll, u.LastSNMPPoll)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]model.Interface, error) {
	rows, err := p.pool.Query(ctx, `SELECT device_id, if_index, name, description, alias, mac_address,
			speed_mbps, admin_status, oper_status, in_octets, out_octets, in_errors, out_errors,
			in_utilization, out_utilization, updated_at
		FROM interfaces WHERE device_id = $1 ORDER BY if_index`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interfaces: %w", err)
	}
	defer rows.Close()

	out := []model.Interface{}
	for rows.Next() {
		var i model.Interface
		var speed, inO, outO, inE, outE int64
		if err := rows.Scan(&i.DeviceID, &i.IfIndex, &i.Name, &i.Description, &i.Alias, &i.MACAddress,
			&speed, &i.AdminStatus, &i.OperStatus, &inO, &outO, &inE, &outE,
			&i.InUtilization, &i.OutUtilization, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interface: %w", err)
		}
		i.SpeedMbps, i.InOctets, i.OutOctets = uint64(speed), uint64(inO), uint64(outO)
		i.InErrors, i.OutErrors = uint64(inE), uint64(outE)
		out = append(out, i)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertInterfaces(ctx context.Context, deviceID uuid.UUID, ifaces []model.Interface) error {
	if len(ifaces) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, i := range ifaces {
		batch.Queue(`INSERT INTO interfaces (device_id, if_index, name, description, alias, mac_address,
				speed_mbps, admin_status, oper_status, in_octets, out_octets, in_errors, out_errors,
				in_utilization, out_utilization, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
			ON CONFLICT (device_id, if_index) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description, alias = EXCLUDED.alias,
				mac_address = EXCLUDED.mac_address, speed_mbps = EXCLUDED.speed_mbps,
				admin_status = EXCLUDED.admin_status, oper_status = EXCLUDED.oper_status,
				in_octets = EXCLUDED.in_octets, out_octets = EXCLUDED.out_octets,
				in_errors = EXCLUDED.in_errors, out_errors = EXCLUDED.out_errors,
				in_utilization = EXCLUDED.in_utilization, out_utilization = EXCLUDED.out_utilization,
				updated_at = now()`,
			deviceID, i.IfIndex, i.Name, i.Description, i.Alias, i.MACAddress,
			int64(i.SpeedMbps), i.AdminStatus, i.OperStatus, int64(i.InOctets), int64(i.OutOctets),
			int64(i.InErrors), int64(i.OutErrors), i.InUtilization, i.OutUtilization)
	}
	return p.sendBatch(ctx, batch, "interfaces")
}

func (p *Postgres) ListVolumes(ctx context.Context, deviceID uuid.UUID) ([]model.Volume, error) {
	rows, err := p.pool.Query(ctx, `SELECT device_id, volume_index, description, total_bytes, used_bytes,
			usage_percent, updated_at
		FROM volumes WHERE device_id = $1 ORDER BY volume_index`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query volumes: %w", err)
	}
	defer rows.Close()

	out := []model.Volume{}
	for rows.Next() {
		var (
			v           model.Volume
			total, used int64
		)
		if err := rows.Scan(&v.DeviceID, &v.Index, &v.Description, &total, &used, &v.UsagePercent, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		v.TotalBytes, v.UsedBytes = uint64(total), uint64(used)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertVolumes(ctx context.Context, deviceID uuid.UUID, vols []model.Volume) error {
	if len(vols) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range vols {
		batch.Queue(`INSERT INTO volumes (device_id, volume_index, description, total_bytes, used_bytes,
				usage_percent, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (device_id, volume_index) DO UPDATE SET
				description = EXCLUDED.description, total_bytes = EXCLUDED.total_bytes,
				used_bytes = EXCLUDED.used_bytes, usage_percent = EXCLUDED.usage_percent,
				updated_at = now()`,
			deviceID, v.Index, v.Description, int64(v.TotalBytes), int64(v.UsedBytes), v.UsagePercent)
	}
	return p.sendBatch(ctx, batch, "volumes")
}

func (p *Postgres) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if code, _ := pgErrCode(err); code == pgForeignKeyViolation {
				return ErrNotFound
			}
			return fmt.Errorf("failed to upsert %s: %w", what, err)
		}
	}
	return nil
}

// Credentials

func (p *Postgres) GetCredential(ctx context.Context, id uuid.UUID) (*model.SNMPCredential, error) {
	var c model.SNMPCredential
	err := p.pool.QueryRow(ctx, `SELECT id, name, username, security_level, auth_protocol, priv_protocol,
			encrypted_secrets, created_at, updated_at
		FROM snmp_credentials WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Username, &c.SecurityLevel, &c.AuthProtocol, &c.PrivProtocol,
			&c.EncryptedSecrets, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (p *Postgres) CreateCredential(ctx context.Context, c *model.SNMPCredential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := p.pool.QueryRow(ctx, `INSERT INTO snmp_credentials (id, name, username, security_level,
			auth_protocol, priv_protocol, encrypted_secrets)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Username, c.SecurityLevel, c.AuthProtocol, c.PrivProtocol, c.EncryptedSecrets,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM snmp_credentials WHERE id = $1`, id)
	if err != nil {
		if code, _ := pgErrCode(err); code == pgForeignKeyViolation {
			return ErrCredentialInUse
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Metrics

var sampleColumns = []string{
	"device_id", "collected_at", "reachable", "status", "icmp_reachable", "snmp_reachable",
	"latency_ms", "packet_loss", "cpu_percent", "memory_percent", "uptime_seconds",
	"interfaces", "volumes",
}

// InsertSamples bulk loads samples with COPY inside a transaction.
func (p *Postgres) InsertSamples(ctx context.Context, samples []model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// no-op after a successful commit
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"metric_samples"},
		sampleColumns,
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			s := samples[i]
			return []any{
				s.DeviceID, s.CollectedAt, s.Reachable, string(s.Status), s.ICMPReachable, s.SNMPReachable,
				s.LatencyMs, s.PacketLoss, s.CPUPercent, s.MemoryPercent, s.UptimeSeconds,
				s.Interfaces, s.Volumes,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy from failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) ListSamples(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]model.MetricSample, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+strings.Join(sampleColumns, ", ")+` FROM metric_samples
		WHERE device_id = $1 AND collected_at >= $2 ORDER BY collected_at`, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var s model.MetricSample
		if err := rows.Scan(&s.DeviceID, &s.CollectedAt, &s.Reachable, &s.Status, &s.ICMPReachable, &s.SNMPReachable,
			&s.LatencyMs, &s.PacketLoss, &s.CPUPercent, &s.MemoryPercent, &s.UptimeSeconds,
			&s.Interfaces, &s.Volumes); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Alerts

func (p *Postgres) ListRules(ctx context.Context) ([]model.AlertRule, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, device_id, metric_type, comparator, threshold,
			duration_seconds, severity, enabled, created_at
		FROM alert_rules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		var r model.AlertRule
		if err := rows.Scan(&r.ID, &r.Name, &r.DeviceID, &r.MetricType, &r.Comparator, &r.Threshold,
			&r.DurationSeconds, &r.Severity, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRule(ctx context.Context, r *model.AlertRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	err := p.pool.QueryRow(ctx, `INSERT INTO alert_rules (id, name, device_id, metric_type, comparator,
			threshold, duration_seconds, severity, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		r.ID, r.Name, r.DeviceID, r.MetricType, r.Comparator, r.Threshold, r.DurationSeconds, r.Severity, r.Enabled,
	).Scan(&r.CreatedAt)
	if err != nil {
		if code, _ := pgErrCode(err); code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert alert rule: %w", err)
	}
	return nil
}

const alertColumns = `id, rule_id, device_id, severity, state, message, value, threshold,
	triggered_at, last_seen_at, acknowledged_at, acknowledged_by, resolved_at`

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	err := row.Scan(&a.ID, &a.RuleID, &a.DeviceID, &a.Severity, &a.State, &a.Message, &a.Value, &a.Threshold,
		&a.TriggeredAt, &a.LastSeenAt, &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) GetOpenAlert(ctx context.Context, ruleID, deviceID uuid.UUID) (*model.Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE rule_id = $1 AND device_id = $2 AND state <> 'resolved'`, ruleID, deviceID))
	return a, notFound(err)
}

func (p *Postgres) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.RuleID, a.DeviceID, a.Severity, a.State, a.Message, a.Value, a.Threshold,
		a.TriggeredAt, a.LastSeenAt, a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt)
	if err != nil {
		switch code, constraint := pgErrCode(err); {
		case code == pgUniqueViolation && constraint == "alerts_open_pair_idx":
			return ErrDuplicateAlert
		case code == pgForeignKeyViolation:
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (p *Postgres) RefreshAlert(ctx context.Context, id uuid.UUID, value float64, severity model.Severity, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE alerts SET value = $2, severity = $3, last_seen_at = $4
		WHERE id = $1 AND state <> 'resolved'`, id, value, severity, at)
	if err != nil {
		return fmt.Errorf("failed to refresh alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.alertMiss(ctx, id)
	}
	return nil
}

func (p *Postgres) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) (*model.Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `UPDATE alerts
		SET state = 'acknowledged', acknowledged_at = $2, acknowledged_by = $3
		WHERE id = $1 AND state = 'active'
		RETURNING `+alertColumns, id, at, by))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.alertMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return a, nil
}

func (p *Postgres) ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) (*model.Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `UPDATE alerts SET state = 'resolved', resolved_at = $2
		WHERE id = $1 AND state <> 'resolved'
		RETURNING `+alertColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.alertMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return a, nil
}

// alertMiss explains a conditional update that matched no row.
func (p *Postgres) alertMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check alert: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlertState
}

func (p *Postgres) GetAlert(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	return a, notFound(err)
}

func (p *Postgres) ListAlerts(ctx context.Context, openOnly bool) ([]model.Alert, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE NOT $1 OR state <> 'resolved'`, openOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortAlerts(out)
	return out, nil
}

// Discovery

const jobColumns = `id, name, cidr, method, snmp_credential_id, status, total_hosts, scanned_hosts,
	discovered_hosts, progress_percent, error_message, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*model.DiscoveryJob, error) {
	var j model.DiscoveryJob
	err := row.Scan(&j.ID, &j.Name, &j.CIDR, &j.Method, &j.SNMPCredentialID, &j.Status, &j.TotalHosts,
		&j.ScannedHosts, &j.DiscoveredHosts, &j.ProgressPercent, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (p *Postgres) CreateJob(ctx context.Context, j *model.DiscoveryJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	err := p.pool.QueryRow(ctx, `INSERT INTO discovery_jobs (id, name, cidr, method, snmp_credential_id,
			status, total_hosts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		j.ID, j.Name, j.CIDR, j.Method, j.SNMPCredentialID, j.Status, j.TotalHosts,
	).Scan(&j.CreatedAt)
	if err != nil {
		if code, _ := pgErrCode(err); code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert discovery job: %w", err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	j, err := scanJob(p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM discovery_jobs WHERE id = $1`, id))
	return j, notFound(err)
}

func (p *Postgres) UpdateJob(ctx context.Context, j *model.DiscoveryJob) error {
	tag, err := p.pool.Exec(ctx, `UPDATE discovery_jobs SET
			status = $2, total_hosts = $3, scanned_hosts = $4, discovered_hosts = $5,
			progress_percent = $6, error_message = $7, started_at = $8, completed_at = $9
		WHERE id = $1`,
		j.ID, j.Status, j.TotalHosts, j.ScannedHosts, j.DiscoveredHosts,
		j.ProgressPercent, j.ErrorMessage, j.StartedAt, j.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update discovery job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateJobProgress(ctx context.Context, id uuid.UUID, scanned, discovered, percent int) error {
	tag, err := p.pool.Exec(ctx, `UPDATE discovery_jobs SET
			scanned_hosts    = GREATEST(scanned_hosts, $2),
			discovered_hosts = GREATEST(discovered_hosts, $3),
			progress_percent = GREATEST(progress_percent, $4)
		WHERE id = $1`, id, scanned, discovered, percent)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.DiscoveryJob, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	rows, err := p.pool.Query(ctx, `SELECT `+jobColumns+` FROM discovery_jobs
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)
		ORDER BY created_at`, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query discovery jobs: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveryJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discovery job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

const hostColumns = `id, job_id, ip_address, hostname, mac_address, icmp_reachable, snmp_reachable,
	latency_ms, ttl, sys_name, sys_descr, sys_object_id, open_ports, vendor, model, device_type,
	os_family, confidence, is_added_to_monitoring, device_id, discovered_at`

// UpsertHost stores a host keyed by (job, ip). The existing row ID is kept
// when the address reappears.
func (p *Postgres) UpsertHost(ctx context.Context, h *model.DiscoveredHost) error {
	addr, err := parseIP(h.IPAddress)
	if err != nil {
		return err
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.DiscoveredAt.IsZero() {
		h.DiscoveredAt = time.Now()
	}
	ports := h.OpenPorts
	if ports == nil {
		ports = []int{}
	}
	err = p.pool.QueryRow(ctx, `INSERT INTO discovered_hosts (`+hostColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (job_id, ip_address) DO UPDATE SET
			hostname = EXCLUDED.hostname, mac_address = EXCLUDED.mac_address,
			icmp_reachable = EXCLUDED.icmp_reachable, snmp_reachable = EXCLUDED.snmp_reachable,
			latency_ms = EXCLUDED.latency_ms, ttl = EXCLUDED.ttl, sys_name = EXCLUDED.sys_name,
			sys_descr = EXCLUDED.sys_descr, sys_object_id = EXCLUDED.sys_object_id,
			open_ports = EXCLUDED.open_ports, vendor = EXCLUDED.vendor, model = EXCLUDED.model,
			device_type = EXCLUDED.device_type, os_family = EXCLUDED.os_family,
			confidence = EXCLUDED.confidence, discovered_at = EXCLUDED.discovered_at
		RETURNING id`,
		h.ID, h.JobID, addr, h.Hostname, h.MACAddress, h.ICMPReachable, h.SNMPReachable,
		h.LatencyMs, h.TTL, h.SysName, h.SysDescr, h.SysObjectID, ports, h.Vendor, h.Model, h.DeviceType,
		h.OSFamily, h.Confidence, h.IsAddedToMonitoring, h.DeviceID, h.DiscoveredAt,
	).Scan(&h.ID)
	if err != nil {
		if code, _ := pgErrCode(err); code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("failed to upsert discovered host: %w", err)
	}
	return nil
}

func (p *Postgres) ListHosts(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+hostColumns+` FROM discovered_hosts
		WHERE job_id = $1 ORDER BY ip_address`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discovered hosts: %w", err)
	}
	defer rows.Close()

	out := []model.DiscoveredHost{}
	for rows.Next() {
		var (
			h    model.DiscoveredHost
			addr netip.Addr
		)
		if err := rows.Scan(&h.ID, &h.JobID, &addr, &h.Hostname, &h.MACAddress, &h.ICMPReachable, &h.SNMPReachable,
			&h.LatencyMs, &h.TTL, &h.SysName, &h.SysDescr, &h.SysObjectID, &h.OpenPorts, &h.Vendor, &h.Model,
			&h.DeviceType, &h.OSFamily, &h.Confidence, &h.IsAddedToMonitoring, &h.DeviceID, &h.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan discovered host: %w", err)
		}
		h.IPAddress = database.InetToString(addr)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteHosts(ctx context.Context, jobID uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM discovered_hosts WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete discovered hosts: %w", err)
	}
	return nil
}

func (p *Postgres) MarkHostPromoted(ctx context.Context, hostID, deviceID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `UPDATE discovered_hosts
		SET is_added_to_monitoring = TRUE, device_id = $2 WHERE id = $1`, hostID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to mark host promoted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Postgres)(nil)
