package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MalformedRecordError reports a shape violation found while normalizing a
// raw payload. Path is the offending field in dotted form.
type MalformedRecordError struct {
	Path   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at %s: %s", e.Path, e.Reason)
}

func malformed(path, format string, args ...any) *MalformedRecordError {
	return &MalformedRecordError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Normalize converts a raw JSON payload into the canonical Record shape.
//
// The pipeline is not consistent about what it returns: the decision appears
// either as a bare enum string (legacy, and what the review path writes back)
// or as a full {value, confidence, chain_of_thought} object, and every nested
// collection may be absent. Normalize always emits the object shape
// (confidence nil, chain_of_thought empty when only the string is present),
// treats absent collections as empty, and silently drops agent-audit entries
// that lack an agent_name. Wrong-typed fields surface as
// *MalformedRecordError carrying the offending field path.
func Normalize(raw []byte) (*Record, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, malformed("(root)", "not a JSON object: %v", err)
	}

	rec := &Record{}

	if err := decodeString(top["transaction_id"], "transaction_id", &rec.TransactionID); err != nil {
		return nil, err
	}

	if err := normalizeRequest(top["transaction_request"], &rec.Request); err != nil {
		return nil, err
	}
	if rec.TransactionID == "" {
		rec.TransactionID = rec.Request.TransactionID
	}

	dec, err := normalizeDecision(top["decision"], "decision")
	if err != nil {
		return nil, err
	}
	rec.Decision = dec

	if err := decodeStringList(top["signals"], "signals", &rec.Signals); err != nil {
		return nil, err
	}

	if err := normalizeAnomalySignals(top["anomaly_signals"], &rec.AnomalySignals); err != nil {
		return nil, err
	}

	if err := normalizeBehavioral(top["behavioral_analysis"], &rec.BehavioralAnalysis); err != nil {
		return nil, err
	}

	if err := normalizePolicyEvidence(top["rag_evidence"], &rec.RAGEvidence); err != nil {
		return nil, err
	}
	if err := normalizeThreatEvidence(top["search_evidence"], &rec.SearchEvidence); err != nil {
		return nil, err
	}
	if err := normalizeDebate(top["debate"], &rec.Debate); err != nil {
		return nil, err
	}
	if err := normalizeAgentAudit(top["agent_audit"], &rec.AgentAudit); err != nil {
		return nil, err
	}

	if err := decodeString(top["explanations"], "explanations", &rec.Explanations); err != nil {
		return nil, err
	}
	if err := decodeBool(top["need_human_review"], "need_human_review", &rec.NeedHumanReview); err != nil {
		return nil, err
	}
	if err := decodeBool(top["reviewed_by_human"], "reviewed_by_human", &rec.ReviewedByHuman); err != nil {
		return nil, err
	}

	if err := normalizeLastDecision(top["last_decision"], &rec.LastDecision); err != nil {
		return nil, err
	}
	// The store flips reviewed_by_human and writes last_decision in one
	// update, but legacy rows predate that; presence of the override wins.
	if rec.LastDecision != nil {
		rec.ReviewedByHuman = true
	}

	if err := decodeTime(top["saved_at"], "saved_at", &rec.SavedAt); err != nil {
		return nil, err
	}

	return rec, nil
}

func normalizeRequest(raw json.RawMessage, out *Request) error {
	if isAbsent(raw) {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return malformed("transaction_request", "expected object: %v", err)
	}
	const p = "transaction_request."
	if err := decodeString(m["transaction_id"], p+"transaction_id", &out.TransactionID); err != nil {
		return err
	}
	if err := decodeString(m["customer_id"], p+"customer_id", &out.CustomerID); err != nil {
		return err
	}
	if err := decodeFloat(m["amount"], p+"amount", &out.Amount); err != nil {
		return err
	}
	if out.Amount < 0 {
		return malformed(p+"amount", "must be >= 0, got %v", out.Amount)
	}
	if err := decodeString(m["currency"], p+"currency", &out.Currency); err != nil {
		return err
	}
	if err := decodeString(m["country"], p+"country", &out.Country); err != nil {
		return err
	}
	if err := decodeString(m["channel"], p+"channel", &out.Channel); err != nil {
		return err
	}
	if err := decodeString(m["device_id"], p+"device_id", &out.DeviceID); err != nil {
		return err
	}
	return decodeTime(m["timestamp"], p+"timestamp", &out.Timestamp)
}

// normalizeDecision accepts either a bare enum string or the full object and
// always returns the object shape.
func normalizeDecision(raw json.RawMessage, path string) (Decision, error) {
	if isAbsent(raw) {
		return Decision{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v := DecisionValue(s)
		if !v.Valid() {
			return Decision{}, malformed(path+".value", "unknown decision %q", s)
		}
		return Decision{Value: v, Confidence: nil, ChainOfThought: ""}, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Decision{}, malformed(path, "expected string or object: %v", err)
	}

	var d Decision
	var value string
	if err := decodeString(m["value"], path+".value", &value); err != nil {
		return Decision{}, err
	}
	d.Value = DecisionValue(value)
	if !d.Value.Valid() {
		return Decision{}, malformed(path+".value", "unknown decision %q", value)
	}
	if err := decodeFloatPtr(m["confidence"], path+".confidence", &d.Confidence); err != nil {
		return Decision{}, err
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return Decision{}, malformed(path+".confidence", "must be in [0,1], got %v", *d.Confidence)
	}
	if err := decodeString(m["chain_of_thought"], path+".chain_of_thought", &d.ChainOfThought); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func normalizeLastDecision(raw json.RawMessage, out **LastDecision) error {
	if isAbsent(raw) {
		return nil
	}

	// Legacy review writes collapse the override to a bare string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v := DecisionValue(s)
		if !v.Valid() {
			return malformed("last_decision.value", "unknown decision %q", s)
		}
		*out = &LastDecision{Value: v}
		return nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return malformed("last_decision", "expected string or object: %v", err)
	}

	ld := &LastDecision{}
	var value string
	if err := decodeString(m["value"], "last_decision.value", &value); err != nil {
		return err
	}
	ld.Value = DecisionValue(value)
	if !ld.Value.Valid() {
		return malformed("last_decision.value", "unknown decision %q", value)
	}
	if err := decodeString(m["decided_by"], "last_decision.decided_by", &ld.DecidedBy); err != nil {
		return err
	}
	if err := decodeString(m["reviewer_notes"], "last_decision.reviewer_notes", &ld.ReviewerNotes); err != nil {
		return err
	}
	if err := decodeTime(m["reviewed_at"], "last_decision.reviewed_at", &ld.ReviewedAt); err != nil {
		return err
	}
	*out = ld
	return nil
}

// normalizeAnomalySignals walks the object token by token so that the source
// key order survives into the mapping.
func normalizeAnomalySignals(raw json.RawMessage, out *AnomalySignals) error {
	if isAbsent(raw) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return malformed("anomaly_signals", "expected object: %v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return malformed("anomaly_signals", "expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return malformed("anomaly_signals", "truncated object: %v", err)
		}
		name := keyTok.(string)

		var body json.RawMessage
		if err := dec.Decode(&body); err != nil {
			return malformed("anomaly_signals."+name, "unreadable value: %v", err)
		}

		var m map[string]json.RawMessage
		if err := json.Unmarshal(body, &m); err != nil {
			return malformed("anomaly_signals."+name, "expected object: %v", err)
		}
		p := "anomaly_signals." + name + "."
		var sig AnomalySignal
		if err := decodeBool(m["is_anomaly"], p+"is_anomaly", &sig.IsAnomaly); err != nil {
			return err
		}
		if err := decodeFloat(m["score"], p+"score", &sig.Score); err != nil {
			return err
		}
		if sig.Score < 0 || sig.Score > 1 {
			return malformed(p+"score", "must be in [0,1], got %v", sig.Score)
		}
		if err := decodeString(m["reason"], p+"reason", &sig.Reason); err != nil {
			return err
		}
		out.Set(name, sig)
	}
	return nil
}

func normalizeBehavioral(raw json.RawMessage, out *BehavioralAnalysis) error {
	if isAbsent(raw) {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return malformed("behavioral_analysis", "expected object: %v", err)
	}
	if err := decodeString(m["pattern_deviation"], "behavioral_analysis.pattern_deviation", &out.PatternDeviation); err != nil {
		return err
	}
	if err := decodeFloat(m["deviation_score"], "behavioral_analysis.deviation_score", &out.DeviationScore); err != nil {
		return err
	}
	if out.DeviationScore < 0 || out.DeviationScore > 1 {
		return malformed("behavioral_analysis.deviation_score", "must be in [0,1], got %v", out.DeviationScore)
	}
	return nil
}

func normalizePolicyEvidence(raw json.RawMessage, out *[]PolicyEvidence) error {
	*out = []PolicyEvidence{}
	return eachElement(raw, "rag_evidence", func(path string, m map[string]json.RawMessage) error {
		var ev PolicyEvidence
		if err := decodeString(m["policy_id"], path+".policy_id", &ev.PolicyID); err != nil {
			return err
		}
		if err := decodeString(m["rule"], path+".rule", &ev.Rule); err != nil {
			return err
		}
		if err := decodeString(m["version"], path+".version", &ev.Version); err != nil {
			return err
		}
		if err := decodeFloat(m["similarity_score"], path+".similarity_score", &ev.SimilarityScore); err != nil {
			return err
		}
		if ev.SimilarityScore < 0 || ev.SimilarityScore > 1 {
			return malformed(path+".similarity_score", "must be in [0,1], got %v", ev.SimilarityScore)
		}
		*out = append(*out, ev)
		return nil
	})
}

func normalizeThreatEvidence(raw json.RawMessage, out *[]ThreatEvidence) error {
	*out = []ThreatEvidence{}
	return eachElement(raw, "search_evidence", func(path string, m map[string]json.RawMessage) error {
		var ev ThreatEvidence
		if err := decodeString(m["fraud_type"], path+".fraud_type", &ev.FraudType); err != nil {
			return err
		}
		if err := decodeString(m["summary"], path+".summary", &ev.Summary); err != nil {
			return err
		}
		if err := decodeString(m["url"], path+".url", &ev.URL); err != nil {
			return err
		}
		*out = append(*out, ev)
		return nil
	})
}

func normalizeDebate(raw json.RawMessage, out *[]DebateEntry) error {
	*out = []DebateEntry{}
	return eachElement(raw, "debate", func(path string, m map[string]json.RawMessage) error {
		var e DebateEntry
		var agent string
		if err := decodeString(m["agent"], path+".agent", &agent); err != nil {
			return err
		}
		e.Agent = DebateAgent(agent)
		if err := decodeInt(m["round"], path+".round", &e.Round); err != nil {
			return err
		}
		if err := decodeString(m["argument"], path+".argument", &e.Argument); err != nil {
			return err
		}
		*out = append(*out, e)
		return nil
	})
}

// normalizeAgentAudit drops entries without an agent_name instead of failing
// the record: one malformed audit row from an upstream agent must not take
// down the whole detail view.
func normalizeAgentAudit(raw json.RawMessage, out *[]AuditEntry) error {
	*out = []AuditEntry{}
	return eachElement(raw, "agent_audit", func(path string, m map[string]json.RawMessage) error {
		var e AuditEntry
		if err := decodeString(m["agent_name"], path+".agent_name", &e.AgentName); err != nil {
			return err
		}
		if e.AgentName == "" {
			return nil
		}
		if err := decodeString(m["status"], path+".status", &e.Status); err != nil {
			return err
		}
		if err := decodeTime(m["execution_time"], path+".execution_time", &e.ExecutionTime); err != nil {
			return err
		}
		if err := decodeFloat(m["duration_seconds"], path+".duration_seconds", &e.DurationSeconds); err != nil {
			return err
		}
		if err := decodeFloatPtr(m["anomaly_score"], path+".anomaly_score", &e.AnomalyScore); err != nil {
			return err
		}
		if err := decodeFloatPtr(m["deviation_score"], path+".deviation_score", &e.DeviationScore); err != nil {
			return err
		}
		// Two upstream agents disagree on the field name for the query.
		if err := decodeString(m["search_query"], path+".search_query", &e.SearchQuery); err != nil {
			return err
		}
		if e.SearchQuery == "" {
			if err := decodeString(m["query_used"], path+".query_used", &e.SearchQuery); err != nil {
				return err
			}
		}
		if err := decodeInt(m["rounds"], path+".rounds", &e.Rounds); err != nil {
			return err
		}
		var decision string
		if err := decodeString(m["decision"], path+".decision", &decision); err != nil {
			return err
		}
		e.Decision = DecisionValue(decision)
		if err := decodeBool(m["explanations_generated"], path+".explanations_generated", &e.Explanations); err != nil {
			return err
		}
		if err := decodeString(m["reviewer_notes"], path+".reviewer_notes", &e.ReviewerNotes); err != nil {
			return err
		}
		*out = append(*out, e)
		return nil
	})
}

// ---------------------------------------------------------------------------
// Decode helpers
// ---------------------------------------------------------------------------

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeString(raw json.RawMessage, path string, out *string) error {
	if isAbsent(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(path, "expected string, got %s", raw)
	}
	return nil
}

func decodeBool(raw json.RawMessage, path string, out *bool) error {
	if isAbsent(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(path, "expected bool, got %s", raw)
	}
	return nil
}

func decodeFloat(raw json.RawMessage, path string, out *float64) error {
	if isAbsent(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(path, "expected number, got %s", raw)
	}
	return nil
}

func decodeFloatPtr(raw json.RawMessage, path string, out **float64) error {
	if isAbsent(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return malformed(path, "expected number, got %s", raw)
	}
	*out = &f
	return nil
}

func decodeInt(raw json.RawMessage, path string, out *int) error {
	if isAbsent(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return malformed(path, "expected integer, got %s", raw)
	}
	*out = int(f)
	return nil
}

func decodeTime(raw json.RawMessage, path string, out *time.Time) error {
	if isAbsent(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return malformed(path, "expected ISO-8601 string, got %s", raw)
	}
	if s == "" {
		return nil
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return malformed(path, "invalid timestamp %q", s)
	}
	*out = t
	return nil
}

// parseTimestamp accepts the timestamp flavors the pipeline has been seen to
// emit: RFC 3339, RFC 3339 without zone, and a space-separated variant.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func decodeStringList(raw json.RawMessage, path string, out *[]string) error {
	*out = []string{}
	if isAbsent(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(path, "expected array of strings, got %s", raw)
	}
	return nil
}

// eachElement iterates an optional JSON array of objects, calling fn with the
// indexed path and decoded fields of each element.
func eachElement(raw json.RawMessage, path string, fn func(path string, m map[string]json.RawMessage) error) error {
	if isAbsent(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return malformed(path, "expected array: %v", err)
	}
	for i, item := range items {
		p := fmt.Sprintf("%s[%d]", path, i)
		var m map[string]json.RawMessage
		if err := json.Unmarshal(item, &m); err != nil {
			return malformed(p, "expected object: %v", err)
		}
		if err := fn(p, m); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// AnomalySignals JSON codec
// ---------------------------------------------------------------------------

// MarshalJSON emits the signals as an object in insertion order.
func (s AnomalySignals) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(s.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON rebuilds the mapping preserving source key order.
func (s *AnomalySignals) UnmarshalJSON(data []byte) error {
	s.keys = nil
	s.values = nil
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("anomaly_signals: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name := keyTok.(string)
		var sig AnomalySignal
		if err := dec.Decode(&sig); err != nil {
			return err
		}
		s.Set(name, sig)
	}
	return nil
}
