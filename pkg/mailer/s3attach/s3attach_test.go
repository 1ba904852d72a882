package s3attach_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/pkg/logger"
	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/array"
	"github.com/dmitrymomot/mailkit/pkg/mailer/s3attach"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *MockClient) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func object(data, contentType string) *s3.GetObjectOutput {
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader([]byte(data))),
		ContentType: aws.String(contentType),
	}
}

func TestStore_Fetch(t *testing.T) {
	t.Parallel()

	client := &MockClient{}
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Bucket) == "docs" && aws.ToString(in.Key) == "invoices/42.pdf"
	})).Return(object("%PDF", "application/pdf"), nil)
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Bucket) == "other" && aws.ToString(in.Key) == "a/b.txt"
	})).Return(object("b", "text/plain"), nil)

	store := s3attach.New(client, "docs")
	ctx := context.Background()

	obj, err := store.Fetch(ctx, "invoices/42.pdf")
	require.NoError(t, err)
	assert.Equal(t, "42.pdf", obj.Name)
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, []byte("%PDF"), obj.Data)

	obj, err = store.Fetch(ctx, "s3://other/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", obj.Name)

	for _, bad := range []string{"", "s3://", "s3://bucket", "s3://bucket/"} {
		_, err = store.Fetch(ctx, bad)
		require.ErrorIs(t, err, s3attach.ErrInvalidURI, bad)
	}
}

func TestStore_FetchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "typed not found", err: &types.NoSuchKey{}, want: s3attach.ErrNotFound},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: s3attach.ErrAccessDenied},
		{name: "other", err: errors.New("reset by peer"), want: s3attach.ErrFetch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &MockClient{}
			client.On("GetObject", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := s3attach.New(client, "docs").Fetch(context.Background(), "x.pdf")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStore_Attach(t *testing.T) {
	t.Parallel()

	client := &MockClient{}
	client.On("GetObject", mock.Anything, mock.Anything).Return(object("id,total", "text/csv"), nil)

	store := s3attach.New(client, "docs")
	mail := mailer.NewMail().From("team@example.com").To("a@example.com").Text("see attached")
	require.NoError(t, store.Attach(context.Background(), mail, "reports/q1.csv", mailer.AttachOptions{As: "report.csv"}))

	tr := array.New()
	m := mailer.New("test", tr)
	_, err := m.SendNow(context.Background(), mail)
	require.NoError(t, err)

	atts := tr.Messages()[0].Email.Attachments
	require.Len(t, atts, 1)
	assert.Equal(t, "report.csv", atts[0].Filename)
	assert.Equal(t, "text/csv", atts[0].ContentType)
	assert.Equal(t, []byte("id,total"), atts[0].Content)
}

func TestStore_ArchiveHook(t *testing.T) {
	t.Parallel()

	client := &MockClient{}
	var put *s3.PutObjectInput
	client.On("PutObject", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { put = args.Get(1).(*s3.PutObjectInput) }).
		Return(&s3.PutObjectOutput{}, nil)

	store := s3attach.New(client, "archive", s3attach.WithPrefix("/sent/"), s3attach.WithLogger(logger.NewNope()))
	m := mailer.New("test", array.New(), mailer.WithAfterSend(store.ArchiveHook()))

	_, err := m.SendNow(context.Background(), mailer.NewMail().From("team@example.com").To("a@example.com").Text("hello"))
	require.NoError(t, err)

	require.NotNil(t, put)
	assert.Equal(t, "archive", aws.ToString(put.Bucket))
	assert.Regexp(t, `^sent/\d{4}/\d{2}/\d{2}/.+\.eml$`, aws.ToString(put.Key))
	assert.Equal(t, "message/rfc822", aws.ToString(put.ContentType))
	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")
}

func TestStore_ArchiveHookSkipsFailures(t *testing.T) {
	t.Parallel()

	client := &MockClient{}
	store := s3attach.New(client, "archive", s3attach.WithLogger(logger.NewNope()))

	store.ArchiveHook()(context.Background(), mailer.SendEvent{Err: errors.New("failed")})
	client.AssertNotCalled(t, "PutObject")
}
