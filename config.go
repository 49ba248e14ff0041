package gatekeeper

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the complete gateway configuration: the permission matrix, the
// projection table, route overrides, claim names and engine tuning. It loads
// from YAML, JSON or the compact binary format.
type Config struct {
	Version     uint16                         `json:"version" yaml:"version"`
	Matrix      map[string]map[string][]string `json:"matrix" yaml:"matrix"`
	Projections []ProjectionRule               `json:"projections" yaml:"projections"`
	Routes      []RouteOverride                `json:"routes,omitempty" yaml:"routes,omitempty"`
	Claims      ClaimsConfig                   `json:"claims" yaml:"claims"`
	Engine      EngineConfig                   `json:"engine" yaml:"engine"`
}

// ProjectionRule is one row of the projection table in its serialized form.
type ProjectionRule struct {
	Role       string   `json:"role" yaml:"role"`
	Resource   string   `json:"resource" yaml:"resource"`
	OmitFields []string `json:"omit_fields" yaml:"omit_fields"`
}

// ClaimsConfig names the credential claims the extractor reads.
type ClaimsConfig struct {
	GroupsClaim   string `json:"groups_claim,omitempty" yaml:"groups_claim,omitempty"`
	EmailClaim    string `json:"email_claim,omitempty" yaml:"email_claim,omitempty"`
	UsernameClaim string `json:"username_claim,omitempty" yaml:"username_claim,omitempty"`
	LeewayMS      int64  `json:"leeway_ms,omitempty" yaml:"leeway_ms,omitempty"`
}

// EngineConfig carries decision-engine tuning.
type EngineConfig struct {
	StrictMethods       bool  `json:"strict_methods" yaml:"strict_methods"`
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
	QueryTimeoutMS      int64 `json:"query_timeout_ms" yaml:"query_timeout_ms"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBinary loads from the compact binary protocol.
func (l *ConfigLoader) LoadBinary(data []byte) (*Config, error) {
	r := bytes.NewReader(data)
	return decodeBinaryConfig(r)
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

var knownOps = map[Operation]struct{}{
	OpRead:     {},
	OpWrite:    {},
	OpDelete:   {},
	OpAssign:   {},
	OpGenerate: {},
}

// Validate checks the config for operations and shapes the engine cannot act
// on. Unknown roles and resource types are allowed (the matrix is total),
// unknown operations are not.
func (c *Config) Validate() error {
	for role, byResource := range c.Matrix {
		if role == "" {
			return fmt.Errorf("matrix: empty role name")
		}
		for rt, ops := range byResource {
			if rt == "" {
				return fmt.Errorf("matrix: role %q: empty resource type", role)
			}
			for _, op := range ops {
				if _, ok := knownOps[Operation(op)]; !ok {
					return fmt.Errorf("matrix: role %q resource %q: unknown operation %q", role, rt, op)
				}
			}
		}
	}
	for i, p := range c.Projections {
		if p.Role == "" || p.Resource == "" {
			return fmt.Errorf("projection %d: role and resource are required", i)
		}
	}
	for i, r := range c.Routes {
		if r.Pattern == "" {
			return fmt.Errorf("route %d: empty pattern", i)
		}
		if _, ok := knownOps[r.Operation]; !ok {
			return fmt.Errorf("route %d: unknown operation %q", i, r.Operation)
		}
	}
	return nil
}

// BuildMatrix converts the serialized matrix into its runtime form. An empty
// matrix falls back to the built-in table.
func (c *Config) BuildMatrix() *Matrix {
	if len(c.Matrix) == 0 {
		return DefaultMatrix()
	}
	entries := make(map[Role]map[ResourceType][]Operation, len(c.Matrix))
	for role, byResource := range c.Matrix {
		row := make(map[ResourceType][]Operation, len(byResource))
		for rt, ops := range byResource {
			converted := make([]Operation, 0, len(ops))
			for _, op := range ops {
				converted = append(converted, Operation(op))
			}
			row[ResourceType(rt)] = converted
		}
		entries[Role(role)] = row
	}
	return NewMatrix(entries)
}

// BuildProjections converts the serialized projection rules into a runtime
// table. No rules falls back to the built-in redactions.
func (c *Config) BuildProjections() *ProjectionTable {
	if len(c.Projections) == 0 {
		return DefaultProjections()
	}
	rules := make(map[Role]map[ResourceType]Projection)
	for _, p := range c.Projections {
		row, ok := rules[Role(p.Role)]
		if !ok {
			row = make(map[ResourceType]Projection)
			rules[Role(p.Role)] = row
		}
		row[ResourceType(p.Resource)] = Projection{OmitFields: p.OmitFields}
	}
	return NewProjectionTable(rules)
}

// BuildExtractor constructs a claims extractor from the configured claim
// names. Empty names keep the provider defaults.
func (c *Config) BuildExtractor(opts ...ClaimsOption) *ClaimsExtractor {
	base := make([]ClaimsOption, 0, 4+len(opts))
	if c.Claims.GroupsClaim != "" {
		base = append(base, WithGroupsClaim(c.Claims.GroupsClaim))
	}
	if c.Claims.EmailClaim != "" {
		base = append(base, WithEmailClaim(c.Claims.EmailClaim))
	}
	if c.Claims.UsernameClaim != "" {
		base = append(base, WithUsernameClaim(c.Claims.UsernameClaim))
	}
	if c.Claims.LeewayMS > 0 {
		base = append(base, WithLeeway(time.Duration(c.Claims.LeewayMS)*time.Millisecond))
	}
	return NewClaimsExtractor(append(base, opts...)...)
}

// BuildEngine constructs a decision engine from the config. Extra options run
// after the config-derived ones and may override them.
func (c *Config) BuildEngine(opts ...EngineOption) (*Engine, error) {
	derived := make([]EngineOption, 0, 4+len(opts))
	derived = append(derived, WithProjections(c.BuildProjections()))
	if len(c.Routes) > 0 {
		derived = append(derived, WithRouteOverrides(c.Routes...))
	}
	if c.Engine.StrictMethods {
		derived = append(derived, WithStrictMethods())
	}
	if c.Engine.RistrettoNumCounter > 0 {
		derived = append(derived, WithDecisionCache(
			c.Engine.RistrettoNumCounter,
			c.Engine.RistrettoMaxCost,
			c.Engine.RistrettoBuffer))
	}
	if c.Engine.DecisionCacheTTL > 0 {
		derived = append(derived, WithDecisionCacheTTL(time.Duration(c.Engine.DecisionCacheTTL)*time.Millisecond))
	}
	return NewEngine(c.BuildMatrix(), append(derived, opts...)...)
}

// ============================================================================
// BINARY PROTOCOL
// ============================================================================

const (
	binaryMagic   = 0x474B // "GK"
	binaryVersion = 1
)

// EncodeBinaryConfig encodes config to the compact binary format.
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}

	// Header: magic(2) + version(2) + config_version(2)
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	writeSection(buf, 0x01, func(b *bytes.Buffer) { encodeMatrix(b, cfg.Matrix) })
	writeSection(buf, 0x02, func(b *bytes.Buffer) { encodeProjections(b, cfg.Projections) })
	writeSection(buf, 0x03, func(b *bytes.Buffer) { encodeRoutes(b, cfg.Routes) })
	writeSection(buf, 0x04, func(b *bytes.Buffer) { encodeClaims(b, &cfg.Claims) })
	writeSection(buf, 0x05, func(b *bytes.Buffer) { encodeEngineConfig(b, &cfg.Engine) })

	return buf.Bytes(), nil
}

func decodeBinaryConfig(r *bytes.Reader) (*Config, error) {
	var magic, ver uint16
	cfg := &Config{}
	binary.Read(r, binary.LittleEndian, &magic)
	binary.Read(r, binary.LittleEndian, &ver)
	binary.Read(r, binary.LittleEndian, &cfg.Version)

	if magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("unsupported binary version: %d", ver)
	}

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		var size uint32
		binary.Read(r, binary.LittleEndian, &size)

		switch tag {
		case 0x01:
			cfg.Matrix = decodeMatrix(r)
		case 0x02:
			cfg.Projections = decodeProjections(r)
		case 0x03:
			cfg.Routes = decodeRoutes(r)
		case 0x04:
			cfg.Claims = decodeClaims(r)
		case 0x05:
			cfg.Engine = decodeEngineConfig(r)
		default:
			// Skip unknown sections so older readers survive newer files.
			r.Seek(int64(size), io.SeekCurrent)
		}
	}
	return cfg, nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) string {
	var l uint16
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	io.ReadFull(r, b)
	return string(b)
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readStrings(r *bytes.Reader) []string {
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	out := make([]string, count)
	for i := range out {
		out[i] = readString(r)
	}
	return out
}

// encodeMatrix writes roles and resources in sorted order so the encoding of
// a given config is byte-stable.
func encodeMatrix(buf *bytes.Buffer, matrix map[string]map[string][]string) {
	roles := make([]string, 0, len(matrix))
	for role := range matrix {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	binary.Write(buf, binary.LittleEndian, uint16(len(roles)))
	for _, role := range roles {
		writeString(buf, role)
		byResource := matrix[role]
		resources := make([]string, 0, len(byResource))
		for rt := range byResource {
			resources = append(resources, rt)
		}
		sort.Strings(resources)
		binary.Write(buf, binary.LittleEndian, uint16(len(resources)))
		for _, rt := range resources {
			writeString(buf, rt)
			writeStrings(buf, byResource[rt])
		}
	}
}

func decodeMatrix(r *bytes.Reader) map[string]map[string][]string {
	var roleCount uint16
	binary.Read(r, binary.LittleEndian, &roleCount)
	matrix := make(map[string]map[string][]string, roleCount)
	for i := uint16(0); i < roleCount; i++ {
		role := readString(r)
		var resourceCount uint16
		binary.Read(r, binary.LittleEndian, &resourceCount)
		row := make(map[string][]string, resourceCount)
		for j := uint16(0); j < resourceCount; j++ {
			rt := readString(r)
			row[rt] = readStrings(r)
		}
		matrix[role] = row
	}
	return matrix
}

func encodeProjections(buf *bytes.Buffer, rules []ProjectionRule) {
	binary.Write(buf, binary.LittleEndian, uint16(len(rules)))
	for _, p := range rules {
		writeString(buf, p.Role)
		writeString(buf, p.Resource)
		writeStrings(buf, p.OmitFields)
	}
}

func decodeProjections(r *bytes.Reader) []ProjectionRule {
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	rules := make([]ProjectionRule, count)
	for i := range rules {
		rules[i].Role = readString(r)
		rules[i].Resource = readString(r)
		rules[i].OmitFields = readStrings(r)
	}
	return rules
}

func encodeRoutes(buf *bytes.Buffer, routes []RouteOverride) {
	binary.Write(buf, binary.LittleEndian, uint16(len(routes)))
	for _, rt := range routes {
		writeString(buf, rt.Pattern)
		writeString(buf, string(rt.Resource))
		writeString(buf, string(rt.Operation))
	}
}

func decodeRoutes(r *bytes.Reader) []RouteOverride {
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	routes := make([]RouteOverride, count)
	for i := range routes {
		routes[i].Pattern = readString(r)
		routes[i].Resource = ResourceType(readString(r))
		routes[i].Operation = Operation(readString(r))
	}
	return routes
}

func encodeClaims(buf *bytes.Buffer, c *ClaimsConfig) {
	writeString(buf, c.GroupsClaim)
	writeString(buf, c.EmailClaim)
	writeString(buf, c.UsernameClaim)
	binary.Write(buf, binary.LittleEndian, c.LeewayMS)
}

func decodeClaims(r *bytes.Reader) ClaimsConfig {
	c := ClaimsConfig{}
	c.GroupsClaim = readString(r)
	c.EmailClaim = readString(r)
	c.UsernameClaim = readString(r)
	binary.Read(r, binary.LittleEndian, &c.LeewayMS)
	return c
}

func encodeEngineConfig(buf *bytes.Buffer, ec *EngineConfig) {
	var strict uint8
	if ec.StrictMethods {
		strict = 1
	}
	binary.Write(buf, binary.LittleEndian, strict)
	binary.Write(buf, binary.LittleEndian, ec.DecisionCacheTTL)
	binary.Write(buf, binary.LittleEndian, ec.RistrettoNumCounter)
	binary.Write(buf, binary.LittleEndian, ec.RistrettoMaxCost)
	binary.Write(buf, binary.LittleEndian, ec.RistrettoBuffer)
	binary.Write(buf, binary.LittleEndian, ec.QueryTimeoutMS)
}

func decodeEngineConfig(r *bytes.Reader) EngineConfig {
	ec := EngineConfig{}
	var strict uint8
	binary.Read(r, binary.LittleEndian, &strict)
	ec.StrictMethods = strict == 1
	binary.Read(r, binary.LittleEndian, &ec.DecisionCacheTTL)
	binary.Read(r, binary.LittleEndian, &ec.RistrettoNumCounter)
	binary.Read(r, binary.LittleEndian, &ec.RistrettoMaxCost)
	binary.Read(r, binary.LittleEndian, &ec.RistrettoBuffer)
	binary.Read(r, binary.LittleEndian, &ec.QueryTimeoutMS)
	return ec
}
