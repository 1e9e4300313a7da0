package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nmslite/netmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFingerprinter(t *testing.T) *Fingerprinter {
	t.Helper()
	f, err := New("")
	require.NoError(t, err)
	return f
}

func TestFingerprint_SysObjectIDWins(t *testing.T) {
	f := newTestFingerprinter(t)

	res := f.Fingerprint(Evidence{
		SysObjectID: "1.3.6.1.4.1.2636.1.1.1.2.29",
		SysDescr:    "Juniper Networks, Inc. ex2200-24t-4g Ethernet Switch, kernel JUNOS 12.3R6.6 EX2200-24T-4G",
		MACAddress:  "dc:a6:32:00:00:01",
		TTL:         64,
	})

	assert.Equal(t, "Juniper", res.Vendor)
	assert.Equal(t, "network", res.DeviceType)
	assert.Equal(t, "junos", res.OSFamily)
	assert.Equal(t, "EX2200-24T-4G", res.Model)
	assert.Equal(t, model.ConfidenceHigh, res.Confidence)
}

func TestFingerprint_LongestPrefix(t *testing.T) {
	f := newTestFingerprinter(t)

	nexus := f.Fingerprint(Evidence{SysObjectID: ".1.3.6.1.4.1.9.12.3.1.3.1008", SysDescr: "Cisco NX-OS(tm) n5000, Nexus 5548"})
	assert.Equal(t, "Cisco", nexus.Vendor)
	assert.Equal(t, "nx-os", nexus.OSFamily)
	assert.Equal(t, "Nexus 5548", nexus.Model)

	ios := f.Fingerprint(Evidence{SysObjectID: "1.3.6.1.4.1.9.1.1208"})
	assert.Equal(t, "Cisco", ios.Vendor)
	assert.Equal(t, "ios", ios.OSFamily)
	assert.Empty(t, ios.Model)
}

func TestFingerprint_PrefixMatchesOnComponentBoundary(t *testing.T) {
	f := newTestFingerprinter(t)

	// .9 must not match enterprise 99
	res := f.Fingerprint(Evidence{SysObjectID: "1.3.6.1.4.1.99.1"})
	assert.Equal(t, Unknown, res.Vendor)
	assert.Equal(t, model.ConfidenceLow, res.Confidence)
}

func TestFingerprint_OUI(t *testing.T) {
	f := newTestFingerprinter(t)

	for _, mac := range []string{"DC:A6:32:12:34:56", "dc-a6-32-12-34-56", "dca6.3212.3456", "dca632123456"} {
		t.Run(mac, func(t *testing.T) {
			res := f.Fingerprint(Evidence{MACAddress: mac, TTL: 64})
			assert.Equal(t, "Raspberry Pi", res.Vendor)
			assert.Equal(t, "linux", res.OSFamily)
			assert.Equal(t, model.ConfidenceMedium, res.Confidence)
		})
	}
}

func TestFingerprint_TTL(t *testing.T) {
	f := newTestFingerprinter(t)

	tests := []struct {
		ttl    int
		family string
	}{
		{ttl: 63, family: "unix"},
		{ttl: 64, family: "unix"},
		{ttl: 127, family: "windows"},
		{ttl: 128, family: "windows"},
		{ttl: 254, family: "network"},
	}
	for _, tt := range tests {
		res := f.Fingerprint(Evidence{TTL: tt.ttl})
		assert.Equal(t, tt.family, res.OSFamily, "ttl %d", tt.ttl)
		assert.Equal(t, Unknown, res.Vendor)
		assert.Equal(t, model.ConfidenceLow, res.Confidence)
	}
}

func TestFingerprint_NoEvidence(t *testing.T) {
	f := newTestFingerprinter(t)

	res := f.Fingerprint(Evidence{})
	assert.Equal(t, Unknown, res.Vendor)
	assert.Equal(t, Unknown, res.DeviceType)
	assert.Empty(t, res.OSFamily)
	assert.Equal(t, model.ConfidenceLow, res.Confidence)
}

func TestFingerprint_PortsRefineWithoutRaisingConfidence(t *testing.T) {
	f := newTestFingerprinter(t)

	res := f.Fingerprint(Evidence{TTL: 128, OpenPorts: []int{135, 445, 3389}})
	assert.Equal(t, "windows", res.OSFamily)
	assert.Equal(t, "workstation", res.DeviceType)
	assert.Equal(t, Unknown, res.Vendor)
	assert.Equal(t, model.ConfidenceLow, res.Confidence)

	printer := f.Fingerprint(Evidence{OpenPorts: []int{9100}})
	assert.Equal(t, "printer", printer.DeviceType)

	mikrotik := f.Fingerprint(Evidence{TTL: 64, OpenPorts: []int{8291}})
	assert.Equal(t, "routeros", mikrotik.OSFamily)
	assert.Equal(t, "network", mikrotik.DeviceType)
}

func TestFingerprint_PortsDoNotOverrideVendorData(t *testing.T) {
	f := newTestFingerprinter(t)

	res := f.Fingerprint(Evidence{SysObjectID: "1.3.6.1.4.1.14988.1", SysDescr: "RouterOS CCR1036-12G-4S", OpenPorts: []int{3389}})
	assert.Equal(t, "MikroTik", res.Vendor)
	assert.Equal(t, "routeros", res.OSFamily)
	assert.Equal(t, "network", res.DeviceType)
	assert.Equal(t, "CCR1036-12G-4S", res.Model)
}

func TestFingerprint_SysDescrRefinesUnixFamily(t *testing.T) {
	f := newTestFingerprinter(t)

	res := f.Fingerprint(Evidence{TTL: 64, SysDescr: "Linux web01 5.15.0-91-generic"})
	assert.Equal(t, "linux", res.OSFamily)
}

func TestNew_OverrideTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	data := `
enterprises:
  - prefix: "1.3.6.1.4.1.99999"
    vendor: Acme
    device_type: sensor
    os_family: acmeos
    models: ['ACM-[0-9]+']
  - prefix: "1.3.6.1.4.1.9"
    vendor: Cisco Systems
    device_type: network
    os_family: ios-xe
ouis:
  "aa:bb:cc": { vendor: Acme, device_type: sensor }
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	f, err := New(path)
	require.NoError(t, err)

	acme := f.Fingerprint(Evidence{SysObjectID: "1.3.6.1.4.1.99999.4", SysDescr: "Acme ACM-200 sensor"})
	assert.Equal(t, "Acme", acme.Vendor)
	assert.Equal(t, "ACM-200", acme.Model)

	cisco := f.Fingerprint(Evidence{SysObjectID: "1.3.6.1.4.1.9.1.1"})
	assert.Equal(t, "Cisco Systems", cisco.Vendor)
	assert.Equal(t, "ios-xe", cisco.OSFamily)

	byMAC := f.Fingerprint(Evidence{MACAddress: "AA:BB:CC:00:11:22"})
	assert.Equal(t, "Acme", byMAC.Vendor)
	assert.Equal(t, model.ConfidenceMedium, byMAC.Confidence)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enterprises:\n  - prefix: '1.3'\n    models: ['(']\n"), 0o600))
	_, err = New(path)
	assert.ErrorContains(t, err, "invalid model pattern")
}
