package probe

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/nmslite/netmon/internal/model"
)

const (
	oidIfTable       = ".1.3.6.1.2.1.2.2.1"
	oidIfDescr       = ".1.3.6.1.2.1.2.2.1.2"
	oidIfSpeed       = ".1.3.6.1.2.1.2.2.1.5"
	oidIfPhysAddress = ".1.3.6.1.2.1.2.2.1.6"
	oidIfAdminStatus = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = ".1.3.6.1.2.1.2.2.1.8"
	oidIfInOctets    = ".1.3.6.1.2.1.2.2.1.10"
	oidIfInErrors    = ".1.3.6.1.2.1.2.2.1.14"
	oidIfOutOctets   = ".1.3.6.1.2.1.2.2.1.16"
	oidIfOutErrors   = ".1.3.6.1.2.1.2.2.1.20"

	oidIfXTable        = ".1.3.6.1.2.1.31.1.1.1"
	oidIfName          = ".1.3.6.1.2.1.31.1.1.1.1"
	oidIfHCInOctets    = ".1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets   = ".1.3.6.1.2.1.31.1.1.1.10"
	oidIfHighSpeed     = ".1.3.6.1.2.1.31.1.1.1.15"
	oidIfAlias         = ".1.3.6.1.2.1.31.1.1.1.18"
	oidHrStorageTable  = ".1.3.6.1.2.1.25.2.3.1"
	oidHrStorageType   = ".1.3.6.1.2.1.25.2.3.1.2"
	oidHrStorageDescr  = ".1.3.6.1.2.1.25.2.3.1.3"
	oidHrStorageUnits  = ".1.3.6.1.2.1.25.2.3.1.4"
	oidHrStorageSize   = ".1.3.6.1.2.1.25.2.3.1.5"
	oidHrStorageUsed   = ".1.3.6.1.2.1.25.2.3.1.6"
	oidHrProcessorLoad = ".1.3.6.1.2.1.25.3.3.1.2"

	hrStorageRAM       = ".1.3.6.1.2.1.25.2.1.2"
	hrStorageFixedDisk = ".1.3.6.1.2.1.25.2.1.4"
)

var ifStatusNames = map[int]string{
	1: "up",
	2: "down",
	3: "testing",
	4: "unknown",
	5: "dormant",
	6: "notPresent",
	7: "lowerLayerDown",
}

// collect walks interface, storage and processor tables. Walk failures are
// logged and leave the corresponding section empty. Once ctx is done the
// remaining walks are skipped and whatever was gathered is returned.
func (p *SNMPProber) collect(ctx context.Context, s session, ip string) *DeviceMetrics {
	m := &DeviceMetrics{}
	now := time.Now()

	walk := func(table string, apply gosnmp.WalkFunc) {
		if ctx.Err() != nil {
			return
		}
		err := s.BulkWalk(table, func(pdu gosnmp.SnmpPDU) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return apply(pdu)
		})
		if err != nil {
			p.Logger.Debug("table walk failed", "ip", ip, "table", table, "error", err)
		}
	}

	if p.CollectInterfaces {
		ifaces := newInterfaceTable()
		walk(oidIfTable, ifaces.apply)
		walk(oidIfXTable, ifaces.apply)
		m.Interfaces = ifaces.list(now)
	}

	if p.CollectVolumes {
		storage := newStorageTable()
		walk(oidHrStorageTable, storage.apply)
		m.MemoryPercent = storage.memoryPercent()
		m.Volumes = storage.volumes(now)

		var loads []float64
		walk(oidHrProcessorLoad, func(pdu gosnmp.SnmpPDU) error {
			if v, ok := pduUint(pdu); ok {
				loads = append(loads, float64(v))
			}
			return nil
		})
		m.CPUPercent = average(loads)
	}

	if ctx.Err() != nil {
		p.Logger.Warn("snmp collection ran out of time, keeping partial metrics",
			"ip", ip,
			"interfaces", len(m.Interfaces),
			"volumes", len(m.Volumes),
		)
	}
	return m
}

type interfaceTable struct {
	byIndex map[int]*model.Interface
	hcIn    map[int]bool
	hcOut   map[int]bool
}

func newInterfaceTable() *interfaceTable {
	return &interfaceTable{
		byIndex: make(map[int]*model.Interface),
		hcIn:    make(map[int]bool),
		hcOut:   make(map[int]bool),
	}
}

func (t *interfaceTable) get(index int) *model.Interface {
	iface, ok := t.byIndex[index]
	if !ok {
		iface = &model.Interface{IfIndex: index}
		t.byIndex[index] = iface
	}
	return iface
}

func (t *interfaceTable) apply(pdu gosnmp.SnmpPDU) error {
	column, index, ok := splitIndex(pdu.Name)
	if !ok {
		return nil
	}

	switch column {
	case oidIfDescr:
		t.get(index).Description = pduString(pdu)
	case oidIfSpeed:
		if v, ok := pduUint(pdu); ok {
			iface := t.get(index)
			if iface.SpeedMbps == 0 {
				iface.SpeedMbps = v / 1_000_000
			}
		}
	case oidIfPhysAddress:
		if b, ok := pdu.Value.([]byte); ok {
			t.get(index).MACAddress = formatMAC(b)
		}
	case oidIfAdminStatus:
		t.get(index).AdminStatus = ifStatus(pdu)
	case oidIfOperStatus:
		t.get(index).OperStatus = ifStatus(pdu)
	case oidIfInOctets:
		if v, ok := pduUint(pdu); ok && !t.hcIn[index] {
			t.get(index).InOctets = v
		}
	case oidIfOutOctets:
		if v, ok := pduUint(pdu); ok && !t.hcOut[index] {
			t.get(index).OutOctets = v
		}
	case oidIfInErrors:
		if v, ok := pduUint(pdu); ok {
			t.get(index).InErrors = v
		}
	case oidIfOutErrors:
		if v, ok := pduUint(pdu); ok {
			t.get(index).OutErrors = v
		}
	case oidIfName:
		t.get(index).Name = pduString(pdu)
	case oidIfAlias:
		t.get(index).Alias = pduString(pdu)
	case oidIfHighSpeed:
		if v, ok := pduUint(pdu); ok && v > 0 {
			t.get(index).SpeedMbps = v
		}
	case oidIfHCInOctets:
		if v, ok := pduUint(pdu); ok {
			t.get(index).InOctets = v
			t.hcIn[index] = true
		}
	case oidIfHCOutOctets:
		if v, ok := pduUint(pdu); ok {
			t.get(index).OutOctets = v
			t.hcOut[index] = true
		}
	}
	return nil
}

func (t *interfaceTable) list(now time.Time) []model.Interface {
	out := make([]model.Interface, 0, len(t.byIndex))
	for _, iface := range t.byIndex {
		if iface.Name == "" {
			iface.Name = iface.Description
		}
		iface.UpdatedAt = now
		out = append(out, *iface)
	}
	return out
}

type storageEntry struct {
	kind  string
	descr string
	units uint64
	size  uint64
	used  uint64
}

type storageTable struct {
	byIndex map[int]*storageEntry
}

func newStorageTable() *storageTable {
	return &storageTable{byIndex: make(map[int]*storageEntry)}
}

func (t *storageTable) get(index int) *storageEntry {
	e, ok := t.byIndex[index]
	if !ok {
		e = &storageEntry{}
		t.byIndex[index] = e
	}
	return e
}

func (t *storageTable) apply(pdu gosnmp.SnmpPDU) error {
	column, index, ok := splitIndex(pdu.Name)
	if !ok {
		return nil
	}
	switch column {
	case oidHrStorageType:
		t.get(index).kind = normalizeOID(pduString(pdu))
	case oidHrStorageDescr:
		t.get(index).descr = pduString(pdu)
	case oidHrStorageUnits:
		if v, ok := pduUint(pdu); ok {
			t.get(index).units = v
		}
	case oidHrStorageSize:
		if v, ok := pduUint(pdu); ok {
			t.get(index).size = v
		}
	case oidHrStorageUsed:
		if v, ok := pduUint(pdu); ok {
			t.get(index).used = v
		}
	}
	return nil
}

func (t *storageTable) memoryPercent() *float64 {
	var size, used uint64
	for _, e := range t.byIndex {
		if e.kind == hrStorageRAM {
			size += e.size * e.units
			used += e.used * e.units
		}
	}
	if size == 0 {
		return nil
	}
	pct := float64(used) / float64(size) * 100
	return &pct
}

func (t *storageTable) volumes(now time.Time) []model.Volume {
	var out []model.Volume
	for index, e := range t.byIndex {
		if e.kind != hrStorageFixedDisk || e.size == 0 {
			continue
		}
		out = append(out, model.Volume{
			Index:        index,
			Description:  e.descr,
			TotalBytes:   e.size * e.units,
			UsedBytes:    e.used * e.units,
			UsagePercent: float64(e.used) / float64(e.size) * 100,
			UpdatedAt:    now,
		})
	}
	return out
}

// splitIndex separates a table column OID from its trailing row index.
func splitIndex(name string) (string, int, bool) {
	name = normalizeOID(name)
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return "", 0, false
	}
	return name[:i], index, true
}

func pduUint(pdu gosnmp.SnmpPDU) (uint64, bool) {
	switch pdu.Type {
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64, gosnmp.TimeTicks, gosnmp.Integer, gosnmp.Uinteger32:
		n := gosnmp.ToBigInt(pdu.Value)
		if n.Sign() < 0 {
			return 0, false
		}
		return n.Uint64(), true
	}
	return 0, false
}

func ifStatus(pdu gosnmp.SnmpPDU) string {
	v, ok := pduUint(pdu)
	if !ok {
		return ""
	}
	if name, ok := ifStatusNames[int(v)]; ok {
		return name
	}
	return "unknown"
}

func formatMAC(b []byte) string {
	if len(b) != 6 {
		return ""
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i, c := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[c>>4], hex[c&0x0f])
	}
	return string(out)
}

func average(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}
