package workflows

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGateBlocksWithoutDocument(t *testing.T) {
	g := NewDocumentGate()
	architect := uuid.New()

	ok, missing := g.Check(StatusPendingArchitectDesign, architect, nil)
	assert.False(t, ok)
	assert.Equal(t, DocumentArchitectDesign, missing)

	docs := []DocumentRef{{Type: DocumentArchitectDesign, UploadedBy: architect, Sequence: 3}}
	ok, missing = g.Check(StatusPendingArchitectDesign, architect, docs)
	assert.True(t, ok)
	assert.Empty(t, missing)
}

func TestGateRequiresAssigneeUpload(t *testing.T) {
	g := NewDocumentGate()
	previous, current := uuid.New(), uuid.New()

	docs := []DocumentRef{{Type: DocumentQuotation, UploadedBy: previous, Sequence: 4}}
	ok, missing := g.Check(StatusPendingQuantifying, current, docs)
	assert.False(t, ok)
	assert.Equal(t, DocumentQuotation, missing)

	docs = append(docs, DocumentRef{Type: DocumentQuotation, UploadedBy: current, Sequence: 9})
	ok, _ = g.Check(StatusPendingQuantifying, current, docs)
	assert.True(t, ok)
}

func TestGateUsesMostRecentDocument(t *testing.T) {
	g := NewDocumentGate()
	a, b := uuid.New(), uuid.New()

	docs := []DocumentRef{
		{Type: DocumentEngineerDesign, UploadedBy: a, Sequence: 2},
		{Type: DocumentEngineerDesign, UploadedBy: b, Sequence: 7},
	}
	ok, _ := g.Check(StatusPendingEngineerDesign, a, docs)
	assert.False(t, ok)
	ok, _ = g.Check(StatusPendingEngineerDesign, b, docs)
	assert.True(t, ok)
}

func TestUngatedStages(t *testing.T) {
	g := NewDocumentGate()
	for _, s := range []Status{StatusPendingAssignment, StatusPendingDesignApproval, StatusPendingFinalApproval, StatusPendingInvoicing} {
		ok, _ := g.Check(s, uuid.New(), nil)
		assert.True(t, ok, s.String())
	}
}

func TestAcceptsUpload(t *testing.T) {
	g := NewDocumentGate()

	assert.True(t, g.AcceptsUpload(StatusPendingArchitectDesign, DocumentArchitectDesign))
	assert.False(t, g.AcceptsUpload(StatusPendingArchitectDesign, DocumentEngineerDesign))
	assert.True(t, g.AcceptsUpload(StatusPendingEngineerDesign, DocumentEngineerDesign))
	assert.True(t, g.AcceptsUpload(StatusPendingQuantifying, DocumentQuotation))
	assert.True(t, g.AcceptsUpload(StatusPendingInvoicing, DocumentInvoice))
	assert.False(t, g.AcceptsUpload(StatusPendingDesignApproval, DocumentEngineerDesign))
	assert.True(t, g.AcceptsUpload(StatusPendingDesignApproval, DocumentOther))
	assert.False(t, g.AcceptsUpload(StatusCompleted, DocumentOther))
}
