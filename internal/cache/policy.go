package cache

import (
	"errors"
	"fmt"
	"strings"
)

// MutationKind names a tracked write anywhere in the system.
type MutationKind string

const (
	MutationReadingIngested            MutationKind = "reading_ingested"
	MutationJobChanged                 MutationKind = "job_changed"
	MutationAnswerSaved                MutationKind = "answer_saved"
	MutationOutputSaved                MutationKind = "output_saved"
	MutationQuestionnaireResponseSaved MutationKind = "questionnaire_response_saved"
	MutationChecklistSaved             MutationKind = "checklist_saved"
)

// Namespaces read by damsafe and by the CRUD services sharing the cache.
const (
	NamespaceReadingsByDam                = "readings_by_dam"
	NamespaceReadingLatest                = "reading_latest"
	NamespaceJobStatusCounts              = "job_status_counts"
	NamespaceJobByID                      = "job_by_id"
	NamespaceAnswersByChecklist           = "answers_by_checklist"
	NamespaceAnswersByUser                = "answers_by_user"
	NamespaceChecklistByID                = "checklist_by_id"
	NamespaceChecklistsByDam              = "checklists_by_dam"
	NamespaceOutputsByDam                 = "outputs_by_dam"
	NamespaceQuestionnaireResponsesByDam  = "questionnaire_responses_by_dam"
	NamespaceQuestionnaireResponsesByDate = "questionnaire_responses_by_date"
	NamespaceDashboardByClient            = "dashboard_by_client"
)

// Shape describes how a namespace is keyed.
type Shape int

const (
	// Simple namespaces are keyed by an id only and are cleared whole.
	Simple Shape = iota
	// Parameterized namespaces are keyed by filters or pagination the mutator does
	// not know, so they are cleared by prefix.
	Parameterized
)

func (s Shape) String() string {
	switch s {
	case Simple:
		return "simple"
	case Parameterized:
		return "parameterized"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Rule is one namespace affected by a mutation.
//
// A Scoped parameterized rule only clears keys built with ScopedKey(scopeID, ...),
// leaving other scopes of the same namespace intact.
type Rule struct {
	Namespace string
	Shape     Shape
	Scoped    bool
}

// Prefix returns the key prefix this rule deletes for a mutation scoped by scopeID.
func (r Rule) Prefix(scopeID string) string {
	if r.Shape == Parameterized && r.Scoped && scopeID != "" {
		return NamespacePrefix(r.Namespace) + scopeID + scopeSeparator
	}

	return NamespacePrefix(r.Namespace)
}

// Policy maps each tracked mutation to the namespaces it invalidates.
type Policy map[MutationKind][]Rule

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid cache invalidation policy")

// Validate rejects empty namespaces and namespaces containing the key separator.
func (p Policy) Validate() error {
	for kind, rules := range p {
		if len(rules) == 0 {
			return fmt.Errorf("%w: %s has no rules", ErrInvalidPolicy, kind)
		}

		for _, rule := range rules {
			if rule.Namespace == "" || strings.Contains(rule.Namespace, Separator) {
				return fmt.Errorf("%w: %s has bad namespace %q", ErrInvalidPolicy, kind, rule.Namespace)
			}

			if rule.Scoped && rule.Shape != Parameterized {
				return fmt.Errorf("%w: %s scopes simple namespace %q", ErrInvalidPolicy, kind, rule.Namespace)
			}
		}
	}

	return nil
}

// DefaultPolicy is the invalidation table shared by every mutator.
// Mutation scope ids are the checklist id for answers and the dam id for everything else.
func DefaultPolicy() Policy {
	return Policy{
		MutationReadingIngested: {
			{Namespace: NamespaceReadingsByDam, Shape: Parameterized, Scoped: true},
			{Namespace: NamespaceReadingLatest, Shape: Simple},
			{Namespace: NamespaceDashboardByClient, Shape: Parameterized},
		},
		MutationJobChanged: {
			{Namespace: NamespaceJobStatusCounts, Shape: Simple},
			{Namespace: NamespaceJobByID, Shape: Simple},
		},
		MutationAnswerSaved: {
			{Namespace: NamespaceAnswersByChecklist, Shape: Parameterized, Scoped: true},
			{Namespace: NamespaceAnswersByUser, Shape: Parameterized},
			{Namespace: NamespaceChecklistByID, Shape: Simple},
			{Namespace: NamespaceDashboardByClient, Shape: Parameterized},
		},
		MutationOutputSaved: {
			{Namespace: NamespaceOutputsByDam, Shape: Parameterized, Scoped: true},
			{Namespace: NamespaceDashboardByClient, Shape: Parameterized},
		},
		MutationQuestionnaireResponseSaved: {
			{Namespace: NamespaceQuestionnaireResponsesByDam, Shape: Parameterized, Scoped: true},
			{Namespace: NamespaceQuestionnaireResponsesByDate, Shape: Parameterized},
			{Namespace: NamespaceDashboardByClient, Shape: Parameterized},
		},
		MutationChecklistSaved: {
			{Namespace: NamespaceChecklistByID, Shape: Simple},
			{Namespace: NamespaceChecklistsByDam, Shape: Parameterized, Scoped: true},
		},
	}
}
