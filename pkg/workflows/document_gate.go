package workflows

import "github.com/google/uuid"

// stageDocuments maps each stage to the deliverable it must produce before a forward
// submission. An empty value means the stage is not gated.
var stageDocuments = map[Status]DocumentType{
	StatusPendingAssignment:      "",
	StatusPendingArchitectDesign: DocumentArchitectDesign,
	StatusPendingEngineerDesign:  DocumentEngineerDesign,
	StatusPendingDesignApproval:  "",
	StatusPendingQuantifying:     DocumentQuotation,
	StatusPendingFinalApproval:   "",
	StatusPendingInvoicing:       "",
	StatusCompleted:              "",
	StatusRejected:               "",
}

// DocumentRef is the minimal view of an uploaded document the gate needs
type DocumentRef struct {
	Type       DocumentType
	UploadedBy uuid.UUID
	Sequence   int64
}

// DocumentGate decides whether the deliverables on a task allow a forward submission
type DocumentGate struct{}

// NewDocumentGate creates the gate for the pipeline
func NewDocumentGate() *DocumentGate {
	return &DocumentGate{}
}

// RequiredDocument returns the document type a stage must produce, if any
func (g *DocumentGate) RequiredDocument(stage Status) (DocumentType, bool) {
	d := stageDocuments[stage]
	return d, d != ""
}

// Check reports whether the most recent document of the required type for stage was
// uploaded by assignee. The missing type is returned when the gate is closed.
func (g *DocumentGate) Check(stage Status, assignee uuid.UUID, docs []DocumentRef) (bool, DocumentType) {
	required, gated := g.RequiredDocument(stage)
	if !gated {
		return true, ""
	}
	latest, ok := Latest(docs, required)
	if !ok || latest.UploadedBy != assignee {
		return false, required
	}
	return true, ""
}

// AcceptsUpload reports whether a document of type d may be attached while work is in stage
func (g *DocumentGate) AcceptsUpload(stage Status, d DocumentType) bool {
	if stage.Terminal() {
		return false
	}
	if d == DocumentOther {
		return true
	}
	if stage == StatusPendingInvoicing {
		return d == DocumentInvoice
	}
	required, gated := g.RequiredDocument(stage)
	return gated && required == d
}

// Latest returns the highest-sequence document of type d
func Latest(docs []DocumentRef, d DocumentType) (DocumentRef, bool) {
	var out DocumentRef
	found := false
	for _, doc := range docs {
		if doc.Type != d {
			continue
		}
		if !found || doc.Sequence > out.Sequence {
			out = doc
			found = true
		}
	}
	return out, found
}
