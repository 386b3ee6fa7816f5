package foundrydata

import (
	"sort"
	"strconv"
)

// AnalyzerInput feeds the coverage analyzer.
type AnalyzerInput struct {
	Effective         *EffectiveSchema
	PlanDiag          []Envelope
	DimensionsEnabled []Dimension
	Operations        []OperationInfo
}

// AnalyzerOutput is the materialized coverage model.
type AnalyzerOutput struct {
	Graph   *CoverageGraph
	Targets []Target
}

type analyzer struct {
	eff        *EffectiveSchema
	dims       map[Dimension]bool
	graph      *CoverageGraph
	targets    []Target
	nodeSeen   map[string]bool
	unsatRoots []string
}

// AnalyzeCoverage walks the canonical schema and materializes the coverage
// graph plus one target per enabled dimension occurrence. For identical
// inputs the output is byte-identical: nodes and targets are emitted in
// deterministic walk order and finally sorted by (dimension, canonPath, id).
func AnalyzeCoverage(in AnalyzerInput) *AnalyzerOutput {
	a := &analyzer{
		eff:      in.Effective,
		dims:     map[Dimension]bool{},
		graph:    &CoverageGraph{},
		nodeSeen: map[string]bool{},
	}
	dims := in.DimensionsEnabled
	if len(dims) == 0 {
		dims = AllDimensions
	}
	for _, d := range dims {
		a.dims[d] = true
	}
	for _, e := range in.PlanDiag {
		if sev, ok := CodeSeverity(e.Code); ok && sev == SeverityFatalUnsat {
			a.unsatRoots = append(a.unsatRoots, e.CanonPath)
		}
	}

	a.walk(in.Effective.Canonical, RootPointer, "")
	a.analyzeOperations(in.Operations)

	for i := range a.targets {
		if a.targets[i].Status == StatusActive && a.unreachable(a.targets[i].CanonPath) {
			a.targets[i].Status = StatusUnreachable
		}
	}
	sortTargets(a.targets)
	sort.SliceStable(a.graph.Nodes, func(i, j int) bool {
		if a.graph.Nodes[i].CanonPath != a.graph.Nodes[j].CanonPath {
			return a.graph.Nodes[i].CanonPath < a.graph.Nodes[j].CanonPath
		}
		return a.graph.Nodes[i].ID < a.graph.Nodes[j].ID
	})
	sort.SliceStable(a.graph.Edges, func(i, j int) bool {
		if a.graph.Edges[i].From != a.graph.Edges[j].From {
			return a.graph.Edges[i].From < a.graph.Edges[j].From
		}
		return a.graph.Edges[i].To < a.graph.Edges[j].To
	})
	return &AnalyzerOutput{Graph: a.graph, Targets: a.targets}
}

// unreachable reports whether a fatal UNSAT proof covers the path by prefix.
func (a *analyzer) unreachable(canonPath string) bool {
	for _, root := range a.unsatRoots {
		if PointerHasPrefix(canonPath, root) {
			return true
		}
	}
	return false
}

func (a *analyzer) addNode(id string, kind GraphNodeKind, canonPath, operationKey string) string {
	if a.nodeSeen[id] {
		return id
	}
	a.nodeSeen[id] = true
	a.graph.Nodes = append(a.graph.Nodes, GraphNode{ID: id, Kind: kind, CanonPath: canonPath, OperationKey: operationKey})
	return id
}

func (a *analyzer) addEdge(from, to string, kind GraphEdgeKind) {
	a.graph.Edges = append(a.graph.Edges, GraphEdge{From: from, To: to, Kind: kind})
}

func (a *analyzer) target(dimension Dimension, kind TargetKind, canonPath, operationKey string, params map[string]any, status TargetStatus) {
	if !a.dims[dimension] {
		return
	}
	a.targets = append(a.targets, Target{
		ID:           ComputeTargetID(dimension, kind, canonPath, operationKey, params),
		Dimension:    dimension,
		Kind:         kind,
		CanonPath:    canonPath,
		OperationKey: operationKey,
		Params:       params,
		Status:       status,
		Weight:       1,
	})
}

func (a *analyzer) walk(schema any, canonPath, parentID string) {
	node := asMap(schema)
	nodeID := "schema:" + canonPath
	a.addNode(nodeID, NodeSchema, canonPath, "")
	if parentID != "" {
		a.addEdge(parentID, nodeID, EdgeStructural)
	}
	a.target(DimStructure, KindSchemaNode, canonPath, "", nil, StatusActive)

	if node == nil {
		return
	}

	if ref := getString(node, "$ref"); ref != "" && ref[0] == '#' {
		a.addEdge(nodeID, "schema:"+ref, EdgeReference)
	}

	// structure: declared properties plus enumerable AP:false names.
	props := asMap(node["properties"])
	declared := map[string]bool{}
	for _, name := range sortedKeys(props) {
		declared[name] = true
		propID := a.addNode("property:"+canonPath+"#"+name, NodeProperty, canonPath, "")
		a.addEdge(nodeID, propID, EdgeStructural)
		a.target(DimStructure, KindPropertyPresent, canonPath, "", map[string]any{"propertyName": name}, StatusActive)
	}
	if idx := a.eff.Coverage[canonPath]; idx != nil {
		if names, ok := idx.Enumerate(); ok {
			for _, name := range names {
				if declared[name] {
					continue
				}
				propID := a.addNode("property:"+canonPath+"#"+name, NodeProperty, canonPath, "")
				a.addEdge(nodeID, propID, EdgeStructural)
				a.target(DimStructure, KindPropertyPresent, canonPath, "", map[string]any{"propertyName": name}, StatusActive)
			}
		}
	}

	// branches
	for _, keyword := range []string{"oneOf", "anyOf"} {
		branches := asSlice(node[keyword])
		kind := KindOneOfBranch
		if keyword == "anyOf" {
			kind = KindAnyOfBranch
		}
		for i := range branches {
			branchPath := branchCanonPath(canonPath, keyword, i)
			branchID := a.addNode("branch:"+branchPath, NodeBranch, branchPath, "")
			a.addEdge(nodeID, branchID, EdgeLogical)
			a.target(DimBranches, kind, branchPath, "", map[string]any{"branchIndex": i}, StatusActive)
		}
	}
	if _, hasIf := node["if"]; hasIf {
		if _, hasThen := node["then"]; hasThen {
			a.target(DimBranches, KindConditionalPath, canonPath, "", map[string]any{"pathKind": "then"}, StatusActive)
		}
		if _, hasElse := node["else"]; hasElse {
			a.target(DimBranches, KindConditionalPath, canonPath, "", map[string]any{"pathKind": "else"}, StatusActive)
		}
	}

	// enum
	if values := asSlice(node["enum"]); len(values) > 0 {
		enumID := a.addNode("enum:"+canonPath, NodeEnum, canonPath, "")
		a.addEdge(nodeID, enumID, EdgeStructural)
		for i := range values {
			a.target(DimEnum, KindEnumValueHit, canonPath, "", map[string]any{"enumIndex": i}, StatusActive)
		}
	}

	// boundaries
	a.boundaryTargets(node, canonPath, nodeID)

	// Recurse in the composer's deterministic keyword order.
	for _, key := range mapSchemaKeywords {
		members := asMap(node[key])
		for _, name := range sortedKeys(members) {
			a.walk(members[name], JoinPointer(canonPath, key, name), nodeID)
		}
	}
	for _, key := range singleSchemaKeywords {
		if child, ok := node[key]; ok && isSchemaValue(child) {
			a.walk(child, JoinPointer(canonPath, key), nodeID)
		}
	}
	for _, key := range listSchemaKeywords {
		for i, child := range asSlice(node[key]) {
			a.walk(child, JoinPointer(canonPath, key, strconv.Itoa(i)), nodeID)
		}
	}
}

func (a *analyzer) boundaryTargets(node map[string]any, canonPath, nodeID string) {
	addConstraint := func(kind TargetKind) {
		constraintID := a.addNode("constraint:"+canonPath+"#"+string(kind), NodeConstraint, canonPath, "")
		a.addEdge(nodeID, constraintID, EdgeStructural)
		a.target(DimBoundaries, kind, canonPath, "", nil, StatusActive)
	}
	if _, ok := node["minimum"]; ok {
		addConstraint(KindNumericMinHit)
	} else if _, ok := node["exclusiveMinimum"]; ok {
		addConstraint(KindNumericMinHit)
	}
	if _, ok := node["maximum"]; ok {
		addConstraint(KindNumericMaxHit)
	} else if _, ok := node["exclusiveMaximum"]; ok {
		addConstraint(KindNumericMaxHit)
	}
	if _, ok := node["minLength"]; ok {
		addConstraint(KindStringMinLengthHit)
	}
	if _, ok := node["maxLength"]; ok {
		addConstraint(KindStringMaxLengthHit)
	}
	if _, ok := node["minItems"]; ok {
		addConstraint(KindArrayMinItemsHit)
	}
	if _, ok := node["maxItems"]; ok {
		addConstraint(KindArrayMaxItemsHit)
	}
}

// analyzeOperations materializes the operations dimension for OpenAPI runs.
func (a *analyzer) analyzeOperations(operations []OperationInfo) {
	if len(operations) == 0 {
		return
	}
	reuse := map[string][]string{}
	for _, op := range operations {
		opID := a.addNode("operation:"+op.Key, NodeOperation, op.CanonPath, op.Key)
		a.addEdge(opID, "schema:"+op.CanonPath, EdgeOperation)
		if op.HasRequest {
			a.target(DimOperations, KindOpRequestCovered, op.CanonPath, op.Key, nil, StatusActive)
		}
		a.target(DimOperations, KindOpResponseCovered, op.CanonPath, op.Key, nil, StatusActive)
		if op.SchemaHash != "" {
			reuse[op.SchemaHash] = append(reuse[op.SchemaHash], op.Key)
		}
	}
	// Schemas reused across two or more operations get a diagnostic-only
	// target; deprecated status keeps it out of every denominator.
	hashes := make([]string, 0, len(reuse))
	for h := range reuse {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		keys := reuse[h]
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		a.target(DimOperations, KindSchemaReused, RootPointer, keys[0], map[string]any{"index": h}, StatusDeprecated)
	}
}
