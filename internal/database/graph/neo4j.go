package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"relgraph/internal/config"
	"relgraph/internal/typemap"
)

var (
	_ Store   = (*Neo4jStore)(nil)
	_ Querier = (*Neo4jStore)(nil)
)

// Catalog node labels. The class catalog lives next to the data.
const (
	classLabel    = "_RelgraphClass"
	propertyLabel = "_RelgraphProperty"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Neo4jStore implements Store on Neo4j. Class hierarchies become label sets:
// a vertex carries the label of its class and of every ancestor.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger

	mu      sync.RWMutex
	lineage map[string][]string
}

// NewNeo4jStore connects and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg config.DestinationConfig, log *zap.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
		log:      log.Named("neo4j"),
		lineage:  make(map[string][]string),
	}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Reset deletes all data and keeps the class catalog.
func (s *Neo4jStore) Reset(ctx context.Context) error {
	_, err := s.write(ctx, fmt.Sprintf(
		"MATCH (n) WHERE NOT n:%s AND NOT n:%s DETACH DELETE n", classLabel, propertyLabel), nil)
	return err
}

// ===== Sessions =====

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out.([]*neo4j.Record), nil
}

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, translate(err)
	}
	return out.([]*neo4j.Record), nil
}

func translate(err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == constraintViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, nerr.Msg)
	}
	return fmt.Errorf("neo4j: %w", err)
}

// ===== Schema =====

func (s *Neo4jStore) GetClass(ctx context.Context, name string) (*ClassInfo, error) {
	recs, err := s.read(ctx, fmt.Sprintf(`
		MATCH (c:%s {name: $name})
		OPTIONAL MATCH (p:%s {class: $name})
		RETURN c.kind AS kind, c.superclass AS superclass,
		       collect(p {.name, .type, .mandatory, .readOnly, .notNull}) AS properties`,
		classLabel, propertyLabel), map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("class %s: %w", name, ErrNotFound)
	}
	kind, _ := recs[0].Get("kind")
	super, _ := recs[0].Get("superclass")
	props, _ := recs[0].Get("properties")
	list, _ := props.([]any)
	return classFromCatalog(name, kind, super, list)
}

// classFromCatalog decodes a catalog row.
func classFromCatalog(name string, kind, superclass any, props []any) (*ClassInfo, error) {
	k, _ := kind.(string)
	sup, _ := superclass.(string)
	info := &ClassInfo{
		ClassDef:   ClassDef{Name: name, Kind: ClassKind(k), Superclass: sup},
		Properties: make(map[string]PropertyDef, len(props)),
	}
	for _, raw := range props {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pname, _ := m["name"].(string)
		tname, _ := m["type"].(string)
		typ, err := typemap.ParseType(tname)
		if err != nil {
			return nil, fmt.Errorf("class %s property %s: %w", name, pname, err)
		}
		def := PropertyDef{Name: pname, Type: typ}
		def.Mandatory, _ = m["mandatory"].(bool)
		def.ReadOnly, _ = m["readOnly"].(bool)
		def.NotNull, _ = m["notNull"].(bool)
		info.Properties[pname] = def
	}
	return info, nil
}

func (s *Neo4jStore) CreateClass(ctx context.Context, def ClassDef) error {
	_, err := s.write(ctx, fmt.Sprintf(
		"CREATE (:%s {name: $name, kind: $kind, superclass: $superclass})", classLabel),
		map[string]any{"name": def.Name, "kind": string(def.Kind), "superclass": def.Superclass})
	if err == nil {
		s.log.Debug("class created", zap.String("class", def.Name), zap.String("superclass", def.Superclass))
	}
	return err
}

// CreateProperty records the definition in the catalog. Neo4j is schemaless;
// the declared type drives value conversion on import.
func (s *Neo4jStore) CreateProperty(ctx context.Context, class string, def PropertyDef) error {
	_, err := s.write(ctx, fmt.Sprintf(`
		MERGE (p:%s {class: $class, name: $name})
		SET p.type = $type, p.mandatory = $mandatory, p.readOnly = $readOnly, p.notNull = $notNull`,
		propertyLabel), map[string]any{
		"class":     class,
		"name":      def.Name,
		"type":      def.Type.String(),
		"mandatory": def.Mandatory,
		"readOnly":  def.ReadOnly,
		"notNull":   def.NotNull,
	})
	return err
}

// DropProperty removes the definition only; stored values stay.
func (s *Neo4jStore) DropProperty(ctx context.Context, class, name string) error {
	_, err := s.write(ctx, fmt.Sprintf(
		"MATCH (p:%s {class: $class, name: $name}) DELETE p", propertyLabel),
		map[string]any{"class": class, "name": name})
	return err
}

func (s *Neo4jStore) GetIndex(ctx context.Context, name string) (*IndexDef, error) {
	recs, err := s.read(ctx, `
		SHOW INDEXES YIELD name, labelsOrTypes, properties, owningConstraint
		WHERE name = $name
		RETURN labelsOrTypes, properties, owningConstraint`, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	def := &IndexDef{Name: name}
	if labels, _ := recs[0].Get("labelsOrTypes"); labels != nil {
		if l := stringList(labels); len(l) > 0 {
			def.Class = l[0]
		}
	}
	props, _ := recs[0].Get("properties")
	def.Properties = stringList(props)
	owner, _ := recs[0].Get("owningConstraint")
	def.Unique = owner != nil
	return def, nil
}

func (s *Neo4jStore) CreateIndex(ctx context.Context, def IndexDef) error {
	_, err := s.write(ctx, createIndexStatement(def), nil)
	return err
}

func (s *Neo4jStore) DropIndex(ctx context.Context, name string) error {
	def, err := s.GetIndex(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.write(ctx, dropIndexStatement(*def), nil)
	return err
}

func createIndexStatement(def IndexDef) string {
	props := make([]string, len(def.Properties))
	for i, p := range def.Properties {
		props[i] = "n." + quote(p)
	}
	cols := strings.Join(props, ", ")
	if def.Unique {
		return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE (%s) IS UNIQUE",
			quote(def.Name), quote(def.Class), cols)
	}
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (%s)", quote(def.Name), quote(def.Class), cols)
}

func dropIndexStatement(def IndexDef) string {
	if def.Unique {
		return "DROP CONSTRAINT " + quote(def.Name) + " IF EXISTS"
	}
	return "DROP INDEX " + quote(def.Name) + " IF EXISTS"
}

// labelsOf returns class and its ancestors from the catalog, cached.
func (s *Neo4jStore) labelsOf(ctx context.Context, class string) ([]string, error) {
	s.mu.RLock()
	labels, ok := s.lineage[class]
	s.mu.RUnlock()
	if ok {
		return labels, nil
	}

	for name := class; name != ""; {
		info, err := s.GetClass(ctx, name)
		if err != nil {
			return nil, err
		}
		labels = append(labels, name)
		name = info.Superclass
	}
	s.mu.Lock()
	s.lineage[class] = labels
	s.mu.Unlock()
	return labels, nil
}

// classOf picks the most specific catalog class among labels.
func (s *Neo4jStore) classOf(ctx context.Context, labels []string) string {
	best, depth := "", 0
	for _, l := range labels {
		lineage, err := s.labelsOf(ctx, l)
		if err != nil {
			continue
		}
		if len(lineage) > depth {
			best, depth = l, len(lineage)
		}
	}
	return best
}

// ===== Data =====

func (s *Neo4jStore) FindVertexByKey(ctx context.Context, class string, keys []string, values []any) (*Vertex, error) {
	query, params, err := findStatement(class, keys, values)
	if err != nil {
		return nil, err
	}
	recs, err := s.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %v: %w", class, values, ErrNotFound)
	}
	id, _ := recs[0].Get("id")
	labels, _ := recs[0].Get("labels")
	props, _ := recs[0].Get("props")
	v := &Vertex{Labels: stringList(labels)}
	v.ID, _ = id.(string)
	v.Properties, _ = props.(map[string]any)
	v.Class = s.classOf(ctx, v.Labels)
	return v, nil
}

func findStatement(class string, keys []string, values []any) (string, map[string]any, error) {
	if len(keys) == 0 || len(keys) != len(values) {
		return "", nil, fmt.Errorf("find %s: %d keys for %d values", class, len(keys), len(values))
	}
	conds := make([]string, len(keys))
	params := make(map[string]any, len(keys))
	for i, k := range keys {
		p := fmt.Sprintf("k%d", i)
		conds[i] = fmt.Sprintf("n.%s = $%s", quote(k), p)
		params[p] = values[i]
	}
	return fmt.Sprintf(
		"MATCH (n:%s) WHERE %s RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props LIMIT 1",
		quote(class), strings.Join(conds, " AND ")), params, nil
}

func (s *Neo4jStore) CreateVertex(ctx context.Context, class string, props map[string]any) (*Vertex, error) {
	labels, err := s.labelsOf(ctx, class)
	if err != nil {
		return nil, err
	}
	recs, err := s.write(ctx, fmt.Sprintf("CREATE (n%s) SET n = $props RETURN elementId(n) AS id", labelExpr(labels)),
		map[string]any{"props": compact(props)})
	if err != nil {
		return nil, err
	}
	id, _ := recs[0].Get("id")
	v := &Vertex{Class: class, Labels: labels, Properties: compact(props)}
	v.ID, _ = id.(string)
	return v, nil
}

func (s *Neo4jStore) SetProperties(ctx context.Context, id string, props map[string]any) error {
	return s.expectOne(ctx, "vertex "+id,
		"MATCH (n) WHERE elementId(n) = $id SET n += $props RETURN count(n) AS n",
		map[string]any{"id": id, "props": props})
}

func (s *Neo4jStore) SetClass(ctx context.Context, id, class string) error {
	labels, err := s.labelsOf(ctx, class)
	if err != nil {
		return err
	}
	return s.expectOne(ctx, "vertex "+id,
		fmt.Sprintf("MATCH (n) WHERE elementId(n) = $id SET n%s RETURN count(n) AS n", labelExpr(labels)),
		map[string]any{"id": id})
}

func (s *Neo4jStore) OutEdges(ctx context.Context, from, label string) ([]Edge, error) {
	recs, err := s.read(ctx, fmt.Sprintf(
		"MATCH (a)-[r:%s]->(b) WHERE elementId(a) = $id RETURN elementId(r) AS id, elementId(b) AS to, properties(r) AS props",
		quote(label)), map[string]any{"id": from})
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(recs))
	for _, rec := range recs {
		e := Edge{Label: label, From: from}
		id, _ := rec.Get("id")
		to, _ := rec.Get("to")
		props, _ := rec.Get("props")
		e.ID, _ = id.(string)
		e.To, _ = to.(string)
		e.Properties, _ = props.(map[string]any)
		out = append(out, e)
	}
	return out, nil
}

func (s *Neo4jStore) CreateEdge(ctx context.Context, label, from, to string, props map[string]any) (*Edge, error) {
	recs, err := s.write(ctx, fmt.Sprintf(`
		MATCH (a), (b) WHERE elementId(a) = $from AND elementId(b) = $to
		CREATE (a)-[r:%s]->(b) SET r = $props
		RETURN elementId(r) AS id`, quote(label)),
		map[string]any{"from": from, "to": to, "props": compact(props)})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("edge %s %s->%s endpoints: %w", label, from, to, ErrNotFound)
	}
	id, _ := recs[0].Get("id")
	e := &Edge{Label: label, From: from, To: to, Properties: compact(props)}
	e.ID, _ = id.(string)
	return e, nil
}

func (s *Neo4jStore) SetEdgeProperties(ctx context.Context, id string, props map[string]any) error {
	return s.expectOne(ctx, "edge "+id,
		"MATCH ()-[r]->() WHERE elementId(r) = $id SET r += $props RETURN count(r) AS n",
		map[string]any{"id": id, "props": props})
}

func (s *Neo4jStore) CountByClass(ctx context.Context) (map[string]int64, error) {
	recs, err := s.read(ctx, fmt.Sprintf(`
		MATCH (n) WHERE NOT n:%s AND NOT n:%s
		UNWIND labels(n) AS label
		RETURN label, count(*) AS n
		UNION ALL
		MATCH ()-[r]->()
		RETURN type(r) AS label, count(*) AS n`, classLabel, propertyLabel), nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(recs))
	for _, rec := range recs {
		label, _ := rec.Get("label")
		n, _ := rec.Get("n")
		l, _ := label.(string)
		c, _ := n.(int64)
		counts[l] += c
	}
	return counts, nil
}

func (s *Neo4jStore) expectOne(ctx context.Context, what, query string, params map[string]any) error {
	recs, err := s.write(ctx, query, params)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if n, _ := recs[0].Get("n"); n == int64(0) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// quote escapes an identifier for Cypher.
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func labelExpr(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(":")
		b.WriteString(quote(l))
	}
	return b.String()
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, x := range list {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
