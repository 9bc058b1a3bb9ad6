package documents

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"infraflow/task-portal/task-portal-backend/pkg/storage"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// MockObjectClient is a mock implementation of storage.ObjectClient
type MockObjectClient struct {
	mock.Mock
}

func (m *MockObjectClient) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	args := m.Called(ctx, bucket, key, body)
	return args.Error(0)
}

func (m *MockObjectClient) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestGenerateKey(t *testing.T) {
	s := NewStore(new(MockObjectClient), "deliverables", "/portal/")
	id := uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000001")

	key := s.GenerateKey(id, workflows.DocumentArchitectDesign, "../Site Plan (v2).pdf")
	assert.True(t, strings.HasPrefix(key, "portal/tasks/"+id.String()+"/architect_design/"), key)
	assert.True(t, strings.HasSuffix(key, "-Site_Plan__v2_.pdf"), key)

	other := s.GenerateKey(id, workflows.DocumentArchitectDesign, "../Site Plan (v2).pdf")
	assert.NotEqual(t, key, other, "re-uploads get distinct keys")

	assert.Equal(t, "document", sanitizeFilename(""))
}

func TestPutReturnsLocator(t *testing.T) {
	client := new(MockObjectClient)
	client.On("Upload", mock.Anything, "deliverables", mock.AnythingOfType("string"), mock.Anything).Return(nil)
	s := NewStore(client, "deliverables", "")

	locator, err := s.Put(context.Background(), uuid.New(), workflows.DocumentQuotation, "quote.xlsx", strings.NewReader("q"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(locator, "deliverables/tasks/"))
	client.AssertExpectations(t)
}

func TestPutPropagatesUploadFailure(t *testing.T) {
	client := new(MockObjectClient)
	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket unavailable"))
	s := NewStore(client, "deliverables", "")

	_, err := s.Put(context.Background(), uuid.New(), workflows.DocumentInvoice, "inv.pdf", strings.NewReader("i"))
	assert.Error(t, err)
}

func TestStoreWithLocalClient(t *testing.T) {
	ctx := context.Background()
	client, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	s := NewStore(client, "deliverables", "")

	locator, err := s.Put(ctx, uuid.New(), workflows.DocumentEngineerDesign, "calc.pdf", strings.NewReader("loads"))
	require.NoError(t, err)

	rc, err := s.Open(ctx, locator)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "loads", string(body))

	_, err = s.Open(ctx, "elsewhere/tasks/x")
	assert.True(t, errors.Is(err, ErrInvalidLocator))
}
