package probe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/nmslite/netmon/internal/model"
)

const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysUptime   = ".1.3.6.1.2.1.1.3.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"

	// usmStats counters returned in Report PDUs when USM rejects a request.
	oidUsmStatsUnsupportedSecLevels = ".1.3.6.1.6.3.15.1.1.1.0"
	oidUsmStatsUnknownUserNames     = ".1.3.6.1.6.3.15.1.1.3.0"
	oidUsmStatsWrongDigests         = ".1.3.6.1.6.3.15.1.1.5.0"
	oidUsmStatsDecryptionErrors     = ".1.3.6.1.6.3.15.1.1.6.0"

	defaultSNMPPort = 161
)

var usmReportOIDs = map[string]string{
	oidUsmStatsUnsupportedSecLevels: "unsupported security level",
	oidUsmStatsUnknownUserNames:     "unknown user name",
	oidUsmStatsWrongDigests:         "wrong digest",
	oidUsmStatsDecryptionErrors:     "decryption error",
}

var authErrorHints = []string{
	"authentic",
	"wrong digest",
	"unknown user",
	"unknownusername",
	"decrypt",
	"security level",
	"usmstats",
}

// SNMPProber performs SNMPv3 GETs and optional table walks with gosnmp.
// Reachability is decided by the system-group GET alone; the walks that
// follow run under their own CollectTimeout and may return partial data.
type SNMPProber struct {
	Retries           int
	CollectInterfaces bool
	CollectVolumes    bool
	CollectTimeout    time.Duration
	Logger            *slog.Logger

	open func(ctx context.Context, t Target, timeout time.Duration) (Result, session)
}

// session is the part of a gosnmp client used after the system query.
type session interface {
	BulkWalk(rootOid string, walkFn gosnmp.WalkFunc) error
	bind(ctx context.Context)
	close()
}

type gosnmpSession struct {
	*gosnmp.GoSNMP
	logger *slog.Logger
}

func (s gosnmpSession) bind(ctx context.Context) { s.Context = ctx }

func (s gosnmpSession) close() {
	if s.Conn == nil {
		return
	}
	if err := s.Conn.Close(); err != nil {
		s.logger.Debug("Error closing SNMP connection", "ip", s.Target, "error", err)
	}
}

// NewSNMPProber creates an SNMPv3 prober.
func NewSNMPProber(retries int, collectInterfaces, collectVolumes bool, logger *slog.Logger) *SNMPProber {
	if logger == nil {
		logger = slog.Default()
	}
	return &SNMPProber{
		Retries:           retries,
		CollectInterfaces: collectInterfaces,
		CollectVolumes:    collectVolumes,
		Logger:            logger.With("component", "snmp"),
	}
}

func (p *SNMPProber) Probe(ctx context.Context, t Target, timeout time.Duration) Result {
	if t.SNMP == nil {
		return Result{Protocol: model.ProtocolSNMP, Code: CodeAuthError, Err: fmt.Errorf("%w: no credentials supplied", ErrAuth)}
	}

	open := p.open
	if open == nil {
		open = p.query
	}

	// The query always hands back its session, even on panic, so it can be
	// closed once the query finishes.
	sessions := make(chan session, 1)
	res := race(ctx, model.ProtocolSNMP, timeout, func(ctx context.Context) Result {
		var s session
		defer func() { sessions <- s }()
		var r Result
		r, s = open(ctx, t, timeout)
		return r
	})

	if res.Code != CodeOK || !(p.CollectInterfaces || p.CollectVolumes) {
		go func() {
			if s := <-sessions; s != nil {
				s.close()
			}
		}()
		return res
	}

	s := <-sessions
	if s == nil {
		return res
	}
	defer s.close()

	budget := p.CollectTimeout
	if budget <= 0 {
		budget = timeout
	}
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	s.bind(cctx)

	res.Metrics = p.collect(cctx, s, t.IP)
	return res
}

// query opens a session and reads the system group. The returned session
// is nil when no connection was made.
func (p *SNMPProber) query(ctx context.Context, t Target, timeout time.Duration) (Result, session) {
	g, err := newSession(t, timeout, p.Retries)
	if err != nil {
		return Result{Code: CodeAuthError, Err: err}, nil
	}
	g.Context = ctx

	if err := g.Connect(); err != nil {
		return failure(fmt.Errorf("snmp connect to %s failed: %w", t.IP, err)), nil
	}
	sess := gosnmpSession{GoSNMP: g, logger: p.Logger}

	start := time.Now()
	pkt, err := g.Get([]string{oidSysDescr, oidSysObjectID, oidSysUptime, oidSysName})
	if err != nil {
		return failure(wrapSNMPError(t.IP, err)), sess
	}
	latency := msSince(start)

	if err := reportError(pkt); err != nil {
		return Result{Code: CodeAuthError, Err: err}, sess
	}
	if pkt.Error != gosnmp.NoError {
		return Result{Code: CodeMalformed, Err: fmt.Errorf("snmp error from %s: %s", t.IP, pkt.Error)}, sess
	}

	sys, ok := parseSystem(pkt.Variables)
	if !ok {
		return Result{Code: CodeMalformed, Err: fmt.Errorf("no snmp system data returned by %s", t.IP)}, sess
	}

	return Result{
		Reachable: true,
		Code:      CodeOK,
		LatencyMs: latency,
		System:    sys,
	}, sess
}

// newSession maps USM parameters onto a gosnmp client.
func newSession(t Target, timeout time.Duration, retries int) (*gosnmp.GoSNMP, error) {
	params := t.SNMP
	port := t.Port
	if port <= 0 {
		port = defaultSNMPPort
	}
	if retries < 0 {
		retries = 0
	}

	g := &gosnmp.GoSNMP{
		Target:         t.IP,
		Port:           uint16(port),
		Version:        gosnmp.Version3,
		Timeout:        timeout,
		Retries:        retries,
		SecurityModel:  gosnmp.UserSecurityModel,
		ContextName:    params.ContextName,
		MaxRepetitions: 25,
	}

	usm := &gosnmp.UsmSecurityParameters{UserName: params.Username}

	switch params.SecurityLevel {
	case model.NoAuthNoPriv:
		g.MsgFlags = gosnmp.NoAuthNoPriv
	case model.AuthNoPriv:
		g.MsgFlags = gosnmp.AuthNoPriv
	case model.AuthPriv:
		g.MsgFlags = gosnmp.AuthPriv
	default:
		return nil, fmt.Errorf("%w: invalid security level %q", ErrAuth, params.SecurityLevel)
	}

	if g.MsgFlags == gosnmp.AuthNoPriv || g.MsgFlags == gosnmp.AuthPriv {
		proto, err := authProtocol(params.AuthProtocol)
		if err != nil {
			return nil, err
		}
		usm.AuthenticationProtocol = proto
		usm.AuthenticationPassphrase = params.AuthPassword
	}

	if g.MsgFlags == gosnmp.AuthPriv {
		proto, err := privProtocol(params.PrivProtocol)
		if err != nil {
			return nil, err
		}
		usm.PrivacyProtocol = proto
		usm.PrivacyPassphrase = params.PrivPassword
	}

	g.SecurityParameters = usm
	return g, nil
}

func authProtocol(name string) (gosnmp.SnmpV3AuthProtocol, error) {
	switch strings.ToUpper(name) {
	case "MD5":
		return gosnmp.MD5, nil
	case "SHA":
		return gosnmp.SHA, nil
	case "SHA224":
		return gosnmp.SHA224, nil
	case "SHA256":
		return gosnmp.SHA256, nil
	case "SHA384":
		return gosnmp.SHA384, nil
	case "SHA512":
		return gosnmp.SHA512, nil
	default:
		return gosnmp.NoAuth, fmt.Errorf("%w: unsupported auth protocol %q", ErrAuth, name)
	}
}

func privProtocol(name string) (gosnmp.SnmpV3PrivProtocol, error) {
	switch strings.ToUpper(name) {
	case "DES":
		return gosnmp.DES, nil
	case "AES":
		return gosnmp.AES, nil
	case "AES192":
		return gosnmp.AES192, nil
	case "AES256":
		return gosnmp.AES256, nil
	case "AES192C":
		return gosnmp.AES192C, nil
	case "AES256C":
		return gosnmp.AES256C, nil
	default:
		return gosnmp.NoPriv, fmt.Errorf("%w: unsupported priv protocol %q", ErrAuth, name)
	}
}

// wrapSNMPError tags USM failures reported through gosnmp errors with ErrAuth.
func wrapSNMPError(ip string, err error) error {
	if isAuthMessage(err.Error()) {
		return fmt.Errorf("%w: %s: %v", ErrAuth, ip, err)
	}
	return fmt.Errorf("snmp get from %s failed: %w", ip, err)
}

func isAuthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, hint := range authErrorHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// reportError detects a Report PDU carrying a usmStats counter.
func reportError(pkt *gosnmp.SnmpPacket) error {
	if pkt == nil {
		return nil
	}
	for _, v := range pkt.Variables {
		if reason, ok := usmReportOIDs[normalizeOID(v.Name)]; ok {
			return fmt.Errorf("%w: %s", ErrAuth, reason)
		}
	}
	if pkt.PDUType == gosnmp.Report {
		return fmt.Errorf("%w: agent returned report pdu", ErrAuth)
	}
	return nil
}

func normalizeOID(oid string) string {
	if !strings.HasPrefix(oid, ".") {
		return "." + oid
	}
	return oid
}

func parseSystem(vars []gosnmp.SnmpPDU) (*SystemInfo, bool) {
	sys := &SystemInfo{}
	found := false
	for _, v := range vars {
		if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance || v.Type == gosnmp.Null {
			continue
		}
		found = true
		switch normalizeOID(v.Name) {
		case oidSysDescr:
			sys.SysDescr = pduString(v)
		case oidSysObjectID:
			sys.SysObjectID = strings.TrimPrefix(pduString(v), ".")
		case oidSysUptime:
			if ticks, ok := v.Value.(uint32); ok {
				sys.UptimeSeconds = int64(ticks) / 100
			}
		case oidSysName:
			sys.SysName = pduString(v)
		}
	}
	return sys, found
}

func pduString(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case []byte:
		return strings.TrimSpace(string(val))
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
