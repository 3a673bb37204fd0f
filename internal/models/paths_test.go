package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/clinicdesk/internal/models"
)

func TestPaths(t *testing.T) {
	p := models.Paths{AppID: "app"}

	tests := []struct {
		got  string
		want string
	}{
		{p.Profile("u1"), "artifacts/app/users/u1/profile"},
		{p.Patients("u1"), "artifacts/app/users/u1/patients"},
		{p.Patient("u1", "p9"), "artifacts/app/users/u1/patients/p9"},
		{p.Stock("u1"), "artifacts/app/users/u1/stock"},
		{p.Receivables("u1"), "artifacts/app/users/u1/finance/receivable"},
		{p.Expenses("u1"), "artifacts/app/users/u1/finance/expenses"},
		{p.Materials("u1", "r1"), "artifacts/app/users/u1/finance/receivable/r1/materials"},
		{p.PurchasedItems("u1", "e1"), "artifacts/app/users/u1/finance/expenses/e1/purchasedItems"},
		{p.Directives("u1"), "artifacts/app/users/u1/aiConfig/directives"},
		{p.Journal("p9"), "artifacts/app/patients/p9/journal"},
		{p.ReplyDrafts("p9"), "artifacts/app/patients/p9/replyDrafts"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}

func TestJoinAndSplitPath(t *testing.T) {
	assert.Equal(t, "a/b/c", models.JoinPath("/a/", "", "b", "c/"))
	assert.Equal(t, []string{"a", "b"}, models.SplitPath("/a/b/"))
	assert.Nil(t, models.SplitPath("/"))
	assert.Nil(t, models.SplitPath(models.JoinPath()))
}
