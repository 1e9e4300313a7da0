// Package fingerprint infers vendor, model and OS family from passive probe
// evidence. Precedence: sysObjectID prefix (high) > MAC OUI (medium) > TTL
// (low). Insufficient evidence yields an unknown, low-confidence result.
package fingerprint

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/nmslite/netmon/internal/model"
	"gopkg.in/yaml.v3"
)

// Unknown is reported when no evidence identifies the host.
const Unknown = "unknown"

//go:embed vendors.yaml
var defaultVendors []byte

// Evidence is everything the discovery runner observed about one host.
type Evidence struct {
	SysObjectID string
	SysDescr    string
	MACAddress  string
	TTL         int
	OpenPorts   []int
}

// Result is the inferred identity of a host.
type Result struct {
	Vendor     string
	Model      string
	DeviceType string
	OSFamily   string
	Confidence model.Confidence
}

type vendorTable struct {
	Enterprises []enterpriseRule   `yaml:"enterprises"`
	OUIs        map[string]ouiRule `yaml:"ouis"`
}

type enterpriseRule struct {
	Prefix     string   `yaml:"prefix"`
	Vendor     string   `yaml:"vendor"`
	DeviceType string   `yaml:"device_type"`
	OSFamily   string   `yaml:"os_family"`
	Models     []string `yaml:"models"`

	patterns []*regexp.Regexp
}

type ouiRule struct {
	Vendor     string `yaml:"vendor"`
	DeviceType string `yaml:"device_type"`
	OSFamily   string `yaml:"os_family"`
}

// Fingerprinter holds compiled vendor tables. It is safe for concurrent use.
type Fingerprinter struct {
	enterprises []enterpriseRule
	ouis        map[string]ouiRule
}

// New loads the embedded vendor table, then merges overridePath on top when
// it is non-empty. Override entries replace built-in entries with the same
// prefix or OUI.
func New(overridePath string) (*Fingerprinter, error) {
	base, err := parseTable(defaultVendors)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded vendor table: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read vendor table %s: %w", overridePath, err)
		}
		extra, err := parseTable(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vendor table %s: %w", overridePath, err)
		}
		base = merge(base, extra)
	}

	f := &Fingerprinter{ouis: make(map[string]ouiRule, len(base.OUIs))}
	for _, rule := range base.Enterprises {
		rule.Prefix = strings.Trim(rule.Prefix, ".")
		for _, expr := range rule.Models {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid model pattern %q for %s: %w", expr, rule.Vendor, err)
			}
			rule.patterns = append(rule.patterns, re)
		}
		f.enterprises = append(f.enterprises, rule)
	}
	// longest prefix first so the first match is the most specific
	sort.SliceStable(f.enterprises, func(i, j int) bool {
		return len(f.enterprises[i].Prefix) > len(f.enterprises[j].Prefix)
	})
	for oui, rule := range base.OUIs {
		f.ouis[normalizeOUI(oui)] = rule
	}
	return f, nil
}

func parseTable(data []byte) (vendorTable, error) {
	var t vendorTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return vendorTable{}, err
	}
	return t, nil
}

func merge(base, extra vendorTable) vendorTable {
	for _, rule := range extra.Enterprises {
		idx := slices.IndexFunc(base.Enterprises, func(r enterpriseRule) bool {
			return strings.Trim(r.Prefix, ".") == strings.Trim(rule.Prefix, ".")
		})
		if idx >= 0 {
			base.Enterprises[idx] = rule
		} else {
			base.Enterprises = append(base.Enterprises, rule)
		}
	}
	if base.OUIs == nil {
		base.OUIs = make(map[string]ouiRule)
	}
	for oui, rule := range extra.OUIs {
		base.OUIs[oui] = rule
	}
	return base
}

// Fingerprint never fails; missing evidence degrades confidence.
func (f *Fingerprinter) Fingerprint(e Evidence) Result {
	var res Result

	switch {
	case f.matchEnterprise(e, &res):
		res.Confidence = model.ConfidenceHigh
	case f.matchOUI(e, &res):
		res.Confidence = model.ConfidenceMedium
	case matchTTL(e, &res):
		res.Confidence = model.ConfidenceLow
	default:
		res.Confidence = model.ConfidenceLow
	}

	refineFromDescr(e, &res)
	refineFromPorts(e, &res)

	if res.Vendor == "" {
		res.Vendor = Unknown
	}
	if res.DeviceType == "" {
		res.DeviceType = Unknown
	}
	return res
}

func (f *Fingerprinter) matchEnterprise(e Evidence, res *Result) bool {
	oid := strings.Trim(strings.TrimSpace(e.SysObjectID), ".")
	if oid == "" {
		return false
	}
	for _, rule := range f.enterprises {
		if oid != rule.Prefix && !strings.HasPrefix(oid, rule.Prefix+".") {
			continue
		}
		res.Vendor = rule.Vendor
		res.DeviceType = rule.DeviceType
		res.OSFamily = rule.OSFamily
		for _, re := range rule.patterns {
			if m := re.FindString(e.SysDescr); m != "" {
				res.Model = m
				break
			}
		}
		return true
	}
	return false
}

func (f *Fingerprinter) matchOUI(e Evidence, res *Result) bool {
	oui := normalizeOUI(e.MACAddress)
	if oui == "" {
		return false
	}
	rule, ok := f.ouis[oui]
	if !ok {
		return false
	}
	res.Vendor = rule.Vendor
	res.DeviceType = rule.DeviceType
	res.OSFamily = rule.OSFamily
	return true
}

// matchTTL guesses the OS family from the initial TTL bucket of a reply.
func matchTTL(e Evidence, res *Result) bool {
	switch {
	case e.TTL <= 0:
		return false
	case e.TTL <= 64:
		res.OSFamily = "unix"
	case e.TTL <= 128:
		res.OSFamily = "windows"
	case e.TTL <= 255:
		res.OSFamily = "network"
		res.DeviceType = "network"
	default:
		return false
	}
	return true
}

func refineFromDescr(e Evidence, res *Result) {
	if res.OSFamily != "" && res.OSFamily != "unix" {
		return
	}
	descr := strings.ToLower(e.SysDescr)
	switch {
	case strings.Contains(descr, "windows"):
		res.OSFamily = "windows"
	case strings.Contains(descr, "linux"):
		res.OSFamily = "linux"
	case strings.Contains(descr, "freebsd"):
		res.OSFamily = "freebsd"
	}
}

// refineFromPorts fills device type and OS family gaps. It never changes
// the vendor or the confidence.
func refineFromPorts(e Evidence, res *Result) {
	has := func(p int) bool { return slices.Contains(e.OpenPorts, p) }

	if res.DeviceType == "" {
		switch {
		case has(8291):
			res.DeviceType = "network"
		case has(9100) || has(631):
			res.DeviceType = "printer"
		case has(3389):
			res.DeviceType = "workstation"
		case has(22) || has(80) || has(443):
			res.DeviceType = "server"
		}
	}
	if res.OSFamily == "" || res.OSFamily == "unix" {
		switch {
		case has(8291):
			res.OSFamily = "routeros"
		case has(3389) || has(445):
			res.OSFamily = "windows"
		}
	}
}

// normalizeOUI returns the upper-case first three octets of a MAC, or "".
func normalizeOUI(mac string) string {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	mac = strings.NewReplacer("-", ":", ".", "").Replace(mac)
	if len(mac) == 12 && !strings.Contains(mac, ":") {
		mac = mac[0:2] + ":" + mac[2:4] + ":" + mac[4:6]
	}
	if len(mac) < 8 {
		return ""
	}
	return mac[:8]
}
