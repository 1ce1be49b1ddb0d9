package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

func TestResolveApprovers_Explicit(t *testing.T) {
	e := New()
	spec := approval.ApproverSpec{
		Type:    approval.ApproverExplicit,
		Value:   []string{"carol", "alice", "carol", "", "bob", "requester"},
		Exclude: []string{"bob"},
	}

	ids, err := e.ResolveApprovers(context.Background(), spec, ResolveInput{RequesterID: "requester"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice", "requester"}, ids, "order preserved, requester kept")
}

func TestResolveApprovers_Manager(t *testing.T) {
	lookup := ManagerLookupFunc(func(_ context.Context, requesterID string) (string, error) {
		switch requesterID {
		case "alice":
			return "mgr-alice", nil
		case "broken":
			return "", errors.New("directory offline")
		}
		return "", nil
	})
	e := New(WithManagerLookup(lookup))
	spec := approval.ApproverSpec{Type: approval.ApproverManager}

	ids, err := e.ResolveApprovers(context.Background(), spec, ResolveInput{RequesterID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-alice"}, ids)

	ids, err = e.ResolveApprovers(context.Background(), spec, ResolveInput{RequesterID: "orphan"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = e.ResolveApprovers(context.Background(), spec, ResolveInput{RequesterID: "broken"})
	assert.ErrorContains(t, err, "directory offline")

	excluded := approval.ApproverSpec{Type: approval.ApproverManager, Exclude: []string{"mgr-alice"}}
	ids, err = e.ResolveApprovers(context.Background(), excluded, ResolveInput{RequesterID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResolveApprovers_ExtensionTypes(t *testing.T) {
	for _, typ := range []approval.ApproverType{approval.ApproverRole, approval.ApproverDepartment, approval.ApproverDynamic} {
		t.Run(string(typ)+" without resolver", func(t *testing.T) {
			ids, err := New().ResolveApprovers(context.Background(), approval.ApproverSpec{Type: typ, Value: []string{"x"}}, ResolveInput{})
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}

	resolver := ApproverResolverFunc(func(_ context.Context, spec approval.ApproverSpec, in ResolveInput) ([]string, error) {
		if spec.Type == approval.ApproverRole && spec.Value[0] == "finance" {
			return []string{"fin-1", "fin-2", in.RequesterID}, nil
		}
		return nil, nil
	})
	e := New(WithApproverResolver(resolver))

	ids, err := e.ResolveApprovers(context.Background(), approval.ApproverSpec{
		Type:    approval.ApproverRole,
		Value:   []string{"finance"},
		Exclude: []string{"fin-2"},
	}, ResolveInput{RequesterID: "fin-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fin-1", "fin-3"}, ids)
}

func TestResolveApprovers_UnknownType(t *testing.T) {
	_, err := New().ResolveApprovers(context.Background(), approval.ApproverSpec{Type: "team"}, ResolveInput{})
	assert.Equal(t, approval.KindValidation, approval.KindOf(err))
}
