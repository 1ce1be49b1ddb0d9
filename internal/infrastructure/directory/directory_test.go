package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/engine"
)

const doc = `
principals:
  - id: riley
    manager: morgan
    department: operations
  - id: morgan
    department: operations
    roles: [approval_viewer]
    lark_id: ou_morgan
  - id: sam
    department: finance
    roles: [finance_approver]
  - id: jordan
    department: finance
    roles: [finance_approver, approval_admin]
`

func TestDirectory_Resolve(t *testing.T) {
	d, err := Parse([]byte(doc))
	require.NoError(t, err)
	ctx := context.Background()

	manager, err := d.ManagerOf(ctx, "riley")
	require.NoError(t, err)
	assert.Equal(t, "morgan", manager)

	manager, err = d.ManagerOf(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, manager)

	tests := []struct {
		name string
		spec approval.ApproverSpec
		data map[string]any
		want []string
	}{
		{name: "role", spec: approval.ApproverSpec{Type: approval.ApproverRole, Value: []string{"finance_approver"}}, want: []string{"sam", "jordan"}},
		{name: "department", spec: approval.ApproverSpec{Type: approval.ApproverDepartment, Value: []string{"operations"}}, want: []string{"riley", "morgan"}},
		{name: "unknown role", spec: approval.ApproverSpec{Type: approval.ApproverRole, Value: []string{"ghost"}}, want: nil},
		{
			name: "dynamic single and list fields",
			spec: approval.ApproverSpec{Type: approval.ApproverDynamic, Value: []string{"owner_id", "reviewers"}},
			data: map[string]any{"owner_id": "sam", "reviewers": []any{"jordan", 7, ""}},
			want: []string{"sam", "jordan"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ResolveApprovers(ctx, tt.spec, engine.ResolveInput{ObjectData: tt.data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = d.ResolveApprovers(ctx, approval.ApproverSpec{Type: approval.ApproverExplicit}, engine.ResolveInput{})
	assert.Error(t, err)
}

func TestDirectory_RolesAndReceiveIDs(t *testing.T) {
	d, err := Parse([]byte(doc))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, d.HasRole(ctx, "jordan", "approval_admin"))
	assert.False(t, d.HasRole(ctx, "sam", "approval_admin"))
	assert.False(t, d.HasRole(ctx, "stranger", "approval_admin"))
	assert.Equal(t, []string{"approval_admin", "approval_viewer", "finance_approver"}, d.Roles())

	assert.Equal(t, "ou_morgan", d.ReceiveID("morgan"))
	assert.Equal(t, "sam", d.ReceiveID("sam"))
}

func TestDirectory_Errors(t *testing.T) {
	_, err := Parse([]byte("principals:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("principals:\n  - name: nobody\n"))
	assert.Error(t, err)

	empty, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	_, ok := empty.Lookup("anyone")
	assert.False(t, ok)
}

func TestEngineUsesDirectory(t *testing.T) {
	d, err := Load(filepath.Join("..", "..", "..", "configs", "directory.yaml"))
	require.NoError(t, err)

	eng := engine.New(engine.WithManagerLookup(d), engine.WithApproverResolver(d))
	ids, err := eng.ResolveApprovers(context.Background(),
		approval.ApproverSpec{Type: approval.ApproverManager}, engine.ResolveInput{RequesterID: "riley"})
	require.NoError(t, err)
	assert.Equal(t, []string{"morgan"}, ids)

	ids, err = eng.ResolveApprovers(context.Background(),
		approval.ApproverSpec{Type: approval.ApproverRole, Value: []string{"finance_approver"}, Exclude: []string{"sam"}},
		engine.ResolveInput{RequesterID: "riley"})
	require.NoError(t, err)
	assert.Equal(t, []string{"jordan", "casey"}, ids)
}
