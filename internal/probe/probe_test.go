package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/nmslite/netmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRace_TimeoutFires(t *testing.T) {
	start := time.Now()
	res := race(context.Background(), model.ProtocolICMP, 50*time.Millisecond, func(ctx context.Context) Result {
		time.Sleep(time.Second)
		return Result{Reachable: true, Code: CodeOK}
	})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, CodeTimeout, res.Code)
	assert.False(t, res.Reachable)
	assert.Equal(t, model.ProtocolICMP, res.Protocol)
}

func TestRace_ReturnsResultAndStampsProtocol(t *testing.T) {
	res := race(context.Background(), model.ProtocolSNMP, time.Second, func(ctx context.Context) Result {
		return Result{Reachable: true, Code: CodeOK}
	})
	assert.Equal(t, CodeOK, res.Code)
	assert.True(t, res.Reachable)
	assert.Equal(t, model.ProtocolSNMP, res.Protocol)
}

func TestRace_RecoversPanic(t *testing.T) {
	res := race(context.Background(), model.ProtocolSNMP, time.Second, func(ctx context.Context) Result {
		panic("boom")
	})
	assert.Equal(t, CodeInternal, res.Code)
	require.Error(t, res.Err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeOK},
		{"auth", fmt.Errorf("wrap: %w", ErrAuth), CodeAuthError},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, CodeRefused},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, CodeUnreachable},
		{"gosnmp timeout", errors.New("request timeout (after 1 retries)"), CodeTimeout},
		{"decode", errors.New("unable to decode packet"), CodeMalformed},
		{"other", errors.New("something odd"), CodeUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestResult_IsAuthError(t *testing.T) {
	assert.True(t, Result{Code: CodeAuthError}.IsAuthError())
	assert.True(t, Result{Code: CodeUnreachable, Err: fmt.Errorf("x: %w", ErrAuth)}.IsAuthError())
	assert.False(t, Result{Code: CodeTimeout}.IsAuthError())
}

func TestNewSession_MapsUSM(t *testing.T) {
	g, err := newSession(Target{
		IP: "10.0.0.1",
		SNMP: &model.SNMPv3Params{
			Username:      "monitor",
			SecurityLevel: model.AuthPriv,
			AuthProtocol:  "sha256",
			AuthPassword:  "authpass123",
			PrivProtocol:  "AES256",
			PrivPassword:  "privpass123",
		},
	}, 5*time.Second, 1)
	require.NoError(t, err)

	assert.Equal(t, uint16(161), g.Port)
	assert.Equal(t, gosnmp.Version3, g.Version)
	assert.Equal(t, gosnmp.AuthPriv, g.MsgFlags)

	usm, ok := g.SecurityParameters.(*gosnmp.UsmSecurityParameters)
	require.True(t, ok)
	assert.Equal(t, "monitor", usm.UserName)
	assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
	assert.Equal(t, gosnmp.AES256, usm.PrivacyProtocol)
}

func TestNewSession_RejectsBadProtocolAsAuthError(t *testing.T) {
	_, err := newSession(Target{
		IP:   "10.0.0.1",
		Port: 1161,
		SNMP: &model.SNMPv3Params{Username: "u", SecurityLevel: model.AuthNoPriv, AuthProtocol: "CRC32"},
	}, time.Second, 0)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestSNMPProbe_NoCredentials(t *testing.T) {
	p := NewSNMPProber(0, false, false, nil)
	res := p.Probe(context.Background(), Target{IP: "10.0.0.1"}, time.Second)
	assert.True(t, res.IsAuthError())
	assert.False(t, res.Reachable)
}

func TestReportError(t *testing.T) {
	pkt := &gosnmp.SnmpPacket{
		PDUType:   gosnmp.Report,
		Variables: []gosnmp.SnmpPDU{{Name: "1.3.6.1.6.3.15.1.1.5.0", Type: gosnmp.Counter32, Value: uint(3)}},
	}
	err := reportError(pkt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "wrong digest")

	ok := &gosnmp.SnmpPacket{PDUType: gosnmp.GetResponse}
	assert.NoError(t, reportError(ok))
}

func TestWrapSNMPError(t *testing.T) {
	assert.ErrorIs(t, wrapSNMPError("10.0.0.1", errors.New("incoming packet is not authentic, discarding")), ErrAuth)
	assert.ErrorIs(t, wrapSNMPError("10.0.0.1", errors.New("wrong digest")), ErrAuth)
	assert.NotErrorIs(t, wrapSNMPError("10.0.0.1", errors.New("request timeout")), ErrAuth)
}

func TestParseSystem(t *testing.T) {
	sys, ok := parseSystem([]gosnmp.SnmpPDU{
		{Name: ".1.3.6.1.2.1.1.1.0", Type: gosnmp.OctetString, Value: []byte("Cisco IOS Software, C9300 ")},
		{Name: ".1.3.6.1.2.1.1.2.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.9.1.2494"},
		{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(12345600)},
		{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.NoSuchObject},
	})
	require.True(t, ok)
	assert.Equal(t, "Cisco IOS Software, C9300", sys.SysDescr)
	assert.Equal(t, "1.3.6.1.4.1.9.1.2494", sys.SysObjectID)
	assert.Equal(t, int64(123456), sys.UptimeSeconds)
	assert.Empty(t, sys.SysName)

	_, ok = parseSystem([]gosnmp.SnmpPDU{{Name: ".1.3.6.1.2.1.1.1.0", Type: gosnmp.NoSuchInstance}})
	assert.False(t, ok)
}

func TestInterfaceTable_PrefersHighCapacityCounters(t *testing.T) {
	tbl := newInterfaceTable()
	pdus := []gosnmp.SnmpPDU{
		{Name: ".1.3.6.1.2.1.2.2.1.2.3", Type: gosnmp.OctetString, Value: []byte("GigabitEthernet0/3")},
		{Name: ".1.3.6.1.2.1.2.2.1.5.3", Type: gosnmp.Gauge32, Value: uint(1_000_000_000)},
		{Name: ".1.3.6.1.2.1.2.2.1.6.3", Type: gosnmp.OctetString, Value: []byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}},
		{Name: ".1.3.6.1.2.1.2.2.1.7.3", Type: gosnmp.Integer, Value: 1},
		{Name: ".1.3.6.1.2.1.2.2.1.8.3", Type: gosnmp.Integer, Value: 2},
		{Name: ".1.3.6.1.2.1.2.2.1.10.3", Type: gosnmp.Counter32, Value: uint(100)},
		{Name: ".1.3.6.1.2.1.2.2.1.14.3", Type: gosnmp.Counter32, Value: uint(7)},
		{Name: ".1.3.6.1.2.1.31.1.1.1.1.3", Type: gosnmp.OctetString, Value: []byte("Gi0/3")},
		{Name: ".1.3.6.1.2.1.31.1.1.1.6.3", Type: gosnmp.Counter64, Value: uint64(5_000_000_000)},
		{Name: ".1.3.6.1.2.1.31.1.1.1.15.3", Type: gosnmp.Gauge32, Value: uint(10_000)},
	}
	for _, pdu := range pdus {
		require.NoError(t, tbl.apply(pdu))
	}

	ifaces := tbl.list(time.Now())
	require.Len(t, ifaces, 1)
	iface := ifaces[0]
	assert.Equal(t, 3, iface.IfIndex)
	assert.Equal(t, "Gi0/3", iface.Name)
	assert.Equal(t, "GigabitEthernet0/3", iface.Description)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", iface.MACAddress)
	assert.Equal(t, "up", iface.AdminStatus)
	assert.Equal(t, "down", iface.OperStatus)
	assert.Equal(t, uint64(5_000_000_000), iface.InOctets)
	assert.Equal(t, uint64(7), iface.InErrors)
	assert.Equal(t, uint64(10_000), iface.SpeedMbps)
}

func TestStorageTable(t *testing.T) {
	tbl := newStorageTable()
	pdus := []gosnmp.SnmpPDU{
		{Name: ".1.3.6.1.2.1.25.2.3.1.2.1", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.2.1.25.2.1.2"},
		{Name: ".1.3.6.1.2.1.25.2.3.1.4.1", Type: gosnmp.Integer, Value: 1024},
		{Name: ".1.3.6.1.2.1.25.2.3.1.5.1", Type: gosnmp.Integer, Value: 1000},
		{Name: ".1.3.6.1.2.1.25.2.3.1.6.1", Type: gosnmp.Integer, Value: 250},
		{Name: ".1.3.6.1.2.1.25.2.3.1.2.31", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.2.1.25.2.1.4"},
		{Name: ".1.3.6.1.2.1.25.2.3.1.3.31", Type: gosnmp.OctetString, Value: []byte("/")},
		{Name: ".1.3.6.1.2.1.25.2.3.1.4.31", Type: gosnmp.Integer, Value: 4096},
		{Name: ".1.3.6.1.2.1.25.2.3.1.5.31", Type: gosnmp.Integer, Value: 200},
		{Name: ".1.3.6.1.2.1.25.2.3.1.6.31", Type: gosnmp.Integer, Value: 150},
	}
	for _, pdu := range pdus {
		require.NoError(t, tbl.apply(pdu))
	}

	mem := tbl.memoryPercent()
	require.NotNil(t, mem)
	assert.InDelta(t, 25.0, *mem, 0.001)

	vols := tbl.volumes(time.Now())
	require.Len(t, vols, 1)
	assert.Equal(t, 31, vols[0].Index)
	assert.Equal(t, "/", vols[0].Description)
	assert.Equal(t, uint64(200*4096), vols[0].TotalBytes)
	assert.InDelta(t, 75.0, vols[0].UsagePercent, 0.001)
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	openPort := ln.Addr().(*net.TCPAddr).Port

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := closed.Addr().(*net.TCPAddr).Port
	require.NoError(t, closed.Close())

	res := NewTCPProber([]int{closedPort, openPort}).Probe(context.Background(), Target{IP: "127.0.0.1"}, 2*time.Second)
	assert.True(t, res.Reachable)
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, []int{openPort}, res.OpenPorts)

	res = NewTCPProber([]int{closedPort}).Probe(context.Background(), Target{IP: "127.0.0.1"}, 2*time.Second)
	assert.True(t, res.Reachable)
	assert.Equal(t, CodeRefused, res.Code)
	assert.Empty(t, res.OpenPorts)
}

func TestParseARP(t *testing.T) {
	input := `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         DC:A6:32:01:02:03     *        eth0
192.168.1.7      0x1         0x0         00:00:00:00:00:00     *        eth0
192.168.1.9      0x1         0x2         b8:27:eb:aa:bb:cc     *        eth0
`
	entries, err := parseARP(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"192.168.1.1": "dc:a6:32:01:02:03",
		"192.168.1.9": "b8:27:eb:aa:bb:cc",
	}, entries)
}

func TestARPTable_MissingFile(t *testing.T) {
	tbl := NewARPTable(t.TempDir()+"/missing", time.Minute)
	assert.Equal(t, "", tbl.Lookup("192.168.1.1"))

	var nilTable *ARPTable
	assert.Equal(t, "", nilTable.Lookup("192.168.1.1"))
}

// slowSession answers the ifTable walk at once and blocks every other walk
// until its context ends.
type slowSession struct {
	ctx    context.Context
	walked []string
	closed chan struct{}
}

func newSlowSession() *slowSession { return &slowSession{closed: make(chan struct{})} }

func (s *slowSession) bind(ctx context.Context) { s.ctx = ctx }

func (s *slowSession) close() { close(s.closed) }

func (s *slowSession) BulkWalk(root string, fn gosnmp.WalkFunc) error {
	s.walked = append(s.walked, root)
	if root == oidIfTable {
		return fn(gosnmp.SnmpPDU{Name: oidIfDescr + ".1", Type: gosnmp.OctetString, Value: []byte("eth0")})
	}
	<-s.ctx.Done()
	return s.ctx.Err()
}

func (s *slowSession) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closed:
	case <-time.After(time.Second):
		t.Fatal("session was not closed")
	}
}

var v3Target = Target{IP: "10.0.0.1", SNMP: &model.SNMPv3Params{Username: "monitor", SecurityLevel: model.NoAuthNoPriv}}

func TestSNMPProbe_SlowCollectionKeepsReachability(t *testing.T) {
	sess := newSlowSession()
	p := NewSNMPProber(0, true, true, nil)
	p.CollectTimeout = 100 * time.Millisecond
	p.open = func(ctx context.Context, _ Target, _ time.Duration) (Result, session) {
		return Result{Reachable: true, Code: CodeOK, System: &SystemInfo{SysName: "core-sw"}}, sess
	}

	// collection outlives the 50ms query timeout
	start := time.Now()
	res := p.Probe(context.Background(), v3Target, 50*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, CodeOK, res.Code)
	assert.True(t, res.Reachable)
	assert.Equal(t, model.ProtocolSNMP, res.Protocol)
	assert.Equal(t, "core-sw", res.System.SysName)

	require.NotNil(t, res.Metrics)
	require.Len(t, res.Metrics.Interfaces, 1)
	assert.Equal(t, "eth0", res.Metrics.Interfaces[0].Name)
	assert.Nil(t, res.Metrics.CPUPercent)
	assert.Equal(t, []string{oidIfTable, oidIfXTable}, sess.walked, "walks after the deadline are skipped")
	sess.waitClosed(t)
}

func TestSNMPProbe_TimedOutQueryClosesSession(t *testing.T) {
	sess := newSlowSession()
	p := NewSNMPProber(0, true, false, nil)
	p.open = func(ctx context.Context, _ Target, _ time.Duration) (Result, session) {
		<-ctx.Done()
		return failure(ctx.Err()), sess
	}

	res := p.Probe(context.Background(), v3Target, 20*time.Millisecond)
	assert.Equal(t, CodeTimeout, res.Code)
	assert.False(t, res.Reachable)
	assert.Nil(t, res.Metrics)
	sess.waitClosed(t)
}

func TestSNMPProbe_NoCollectionClosesSession(t *testing.T) {
	sess := newSlowSession()
	p := NewSNMPProber(0, false, false, nil)
	p.open = func(ctx context.Context, _ Target, _ time.Duration) (Result, session) {
		return Result{Reachable: true, Code: CodeOK, System: &SystemInfo{SysName: "edge"}}, sess
	}

	res := p.Probe(context.Background(), v3Target, time.Second)
	assert.Equal(t, CodeOK, res.Code)
	assert.Nil(t, res.Metrics)
	assert.Empty(t, sess.walked)
	sess.waitClosed(t)
}
