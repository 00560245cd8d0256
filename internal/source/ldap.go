package source

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"replwatch/internal/config"
	"replwatch/internal/model"
)

// LDAP is the production Resolver/DataSource/Actuator. Topology comes from
// the configuration naming context; per-node replication metadata comes
// from the msDS-ReplAllInboundNeighbors constructed attribute on the
// node's rootDSE; remedies are rootDSE operational writes.
type LDAP struct {
	cfg config.LDAPConfig
	log *zap.Logger
}

// NewLDAP returns an adapter bound to the given connection settings.
func NewLDAP(cfg config.LDAPConfig, log *zap.Logger) *LDAP {
	return &LDAP{cfg: cfg, log: log}
}

// neighbor mirrors the per-partner XML emitted by
// msDS-ReplAllInboundNeighbors.
type neighbor struct {
	XMLName             xml.Name `xml:"repsFrom"`
	SourceDSA           string   `xml:"pszSourceDsaDN"`
	NamingContext       string   `xml:"pszNamingContext"`
	LastSyncSuccess     string   `xml:"ftimeLastSyncSuccess"`
	LastSyncAttempt     string   `xml:"ftimeLastSyncAttempt"`
	ConsecutiveFailures int      `xml:"cNumConsecutiveSyncFailures"`
	LastSyncResult      int      `xml:"dwLastSyncResult"`
}

func (l *LDAP) dial(ctx context.Context, host string) (*ldap.Conn, error) {
	url := l.cfg.URL
	if host != "" {
		// Per-node queries go to that node, not the configured seed server.
		scheme := "ldap"
		if strings.HasPrefix(url, "ldaps://") {
			scheme = "ldaps"
		}
		url = fmt.Sprintf("%s://%s", scheme, host)
	}
	conn, err := ldap.DialURL(url)
	if err != nil {
		return nil, err
	}
	timeout := l.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	conn.SetTimeout(timeout)
	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.Password); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// Resolve enumerates directory servers from the configuration NC.
func (l *LDAP) Resolve(ctx context.Context, scope model.Scope) ([]model.Node, error) {
	if scope.Kind == model.ScopeList {
		out := make([]model.Node, 0, len(scope.Nodes))
		for _, n := range scope.Nodes {
			out = append(out, model.Node{Name: n})
		}
		return out, nil
	}

	conn, err := l.dial(ctx, "")
	if err != nil {
		return nil, l.classify("resolve", "", err)
	}
	defer conn.Close()

	base := "CN=Sites,CN=Configuration," + l.cfg.BaseDN
	req := ldap.NewSearchRequest(
		base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=server)",
		[]string{"dNSHostName", "cn"}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, l.classify("resolve", "", err)
	}

	var out []model.Node
	for _, entry := range res.Entries {
		node := model.Node{
			Name: entry.GetAttributeValue("dNSHostName"),
			Site: siteFromDN(entry.DN),
		}
		if node.Name == "" {
			node.Name = entry.GetAttributeValue("cn")
		}
		if scope.Kind == model.ScopeSite && !strings.EqualFold(node.Site, scope.Site) {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

// siteFromDN extracts the site name from a server DN of the form
// CN=<server>,CN=Servers,CN=<site>,CN=Sites,...
func siteFromDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		if strings.EqualFold(strings.TrimSpace(p), "CN=Servers") && i+1 < len(parts) {
			return strings.TrimPrefix(strings.TrimSpace(parts[i+1]), "CN=")
		}
	}
	return ""
}

// Query reads one node's inbound replication state.
func (l *LDAP) Query(ctx context.Context, node model.Node) (model.Snapshot, error) {
	now := time.Now().UTC()
	conn, err := l.dial(ctx, node.Name)
	if err != nil {
		return model.Snapshot{}, l.classify("query", node.Name, err)
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		"", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"msDS-ReplAllInboundNeighbors"}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return model.Snapshot{}, l.classify("query", node.Name, err)
	}

	snap := model.Snapshot{Node: node, Reachable: true, CollectedAt: now}
	if len(res.Entries) == 0 {
		return snap, nil
	}

	for _, raw := range res.Entries[0].GetAttributeValues("msDS-ReplAllInboundNeighbors") {
		var n neighbor
		if err := xml.Unmarshal([]byte(raw), &n); err != nil {
			l.log.Warn("unparseable neighbor entry", zap.String("node", node.Name), zap.Error(err))
			continue
		}
		ps := model.PartnerStatus{
			Partner:       n.SourceDSA,
			FailureCount:  n.ConsecutiveFailures,
			LastErrorCode: n.LastSyncResult,
		}
		if t, err := time.Parse(time.RFC3339, n.LastSyncSuccess); err == nil {
			ps.LastSuccess = t
			ps.Delta = now.Sub(t)
		}
		if t, err := time.Parse(time.RFC3339, n.LastSyncAttempt); err == nil {
			ps.LastAttempt = t
		}
		snap.Partners = append(snap.Partners, ps)
		if ps.FailureCount > snap.ConsecutiveFailures {
			snap.ConsecutiveFailures = ps.FailureCount
		}
		if ps.LastSuccess.After(snap.LastSync) {
			snap.LastSync = ps.LastSuccess
		}
	}
	return snap, nil
}

// rootDSE operational attributes backing each remedy.
var remedyVerbs = map[model.Remedy]string{
	model.RemedyForceSync:      "replicateSingleObject",
	model.RemedyClearQueue:     "doLinkCleanup",
	model.RemedyRestartService: "recalcHierarchy",
}

// Apply invokes the repair verb on the node. RemedyEscalate is a no-op by
// contract and must be filtered out by the caller.
func (l *LDAP) Apply(ctx context.Context, node model.Node, remedy model.Remedy) error {
	verb, ok := remedyVerbs[remedy]
	if !ok {
		return &RemoteError{Op: "apply", Node: node.Name, Err: fmt.Errorf("no verb for remedy %q", remedy)}
	}
	conn, err := l.dial(ctx, node.Name)
	if err != nil {
		return l.classify("apply", node.Name, err)
	}
	defer conn.Close()

	mod := ldap.NewModifyRequest("", nil)
	mod.Replace(verb, []string{"1"})
	if err := conn.Modify(mod); err != nil {
		return l.classify("apply", node.Name, err)
	}
	return nil
}

// capturedState is the pre-action blob. Opaque to the engine; it only
// round-trips it back into Restore.
type capturedState struct {
	Node    string `json:"node"`
	Options string `json:"options"` // NTDS Settings options bits
	Taken   string `json:"taken"`
}

func (l *LDAP) CaptureState(ctx context.Context, node model.Node) ([]byte, error) {
	conn, err := l.dial(ctx, node.Name)
	if err != nil {
		return nil, l.classify("capture", node.Name, err)
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		"", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"options"}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, l.classify("capture", node.Name, err)
	}
	state := capturedState{Node: node.Name, Taken: time.Now().UTC().Format(time.RFC3339)}
	if len(res.Entries) > 0 {
		state.Options = res.Entries[0].GetAttributeValue("options")
	}
	return json.Marshal(state)
}

func (l *LDAP) Restore(ctx context.Context, node model.Node, blob []byte) error {
	var state capturedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return &RemoteError{Op: "restore", Node: node.Name, Err: err}
	}
	conn, err := l.dial(ctx, node.Name)
	if err != nil {
		return l.classify("restore", node.Name, err)
	}
	defer conn.Close()

	mod := ldap.NewModifyRequest("", nil)
	if state.Options == "" {
		mod.Replace("options", []string{"0"})
	} else {
		mod.Replace("options", []string{state.Options})
	}
	if err := conn.Modify(mod); err != nil {
		return l.classify("restore", node.Name, err)
	}
	return nil
}

// classify wraps an ldap error as a RemoteError with the retryability the
// result code implies.
func (l *LDAP) classify(op, node string, err error) error {
	code := 0
	retryable := false
	if le, ok := err.(*ldap.Error); ok {
		code = int(le.ResultCode)
	}
	switch {
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork),
		ldap.IsErrorWithCode(err, ldap.LDAPResultBusy),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable),
		ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded),
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown):
		retryable = true
	}
	return &RemoteError{Op: op, Node: node, Code: code, Retryable: retryable, Err: err}
}
