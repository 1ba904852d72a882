package ses_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
	"github.com/dmitrymomot/mailkit/pkg/mailer/ses"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func newEmail(t *testing.T) *mailer.Email {
	t.Helper()

	email, err := mailer.NewMessage().
		From("team@example.com", "Team").
		ReturnPath("bounce@example.com").
		To("a@example.com").
		Bcc("hidden@example.com").
		Subject("Hello").
		Text("hi").
		Metadata("user_id", "42").
		Finalize()
	require.NoError(t, err)
	return email
}

func TestTransport_Send(t *testing.T) {
	t.Parallel()

	client := &MockClient{}
	var input *sesv2.SendEmailInput
	client.On("SendEmail", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { input = args.Get(1).(*sesv2.SendEmailInput) }).
		Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil)

	tr := ses.NewV2(client,
		ses.WithConfigurationSet("transactional"),
		ses.WithTags(map[string]string{"env": "test", "user_id": "0"}),
	)
	assert.Equal(t, "sesv2", tr.Name())

	sent, err := tr.Send(context.Background(), newEmail(t))
	require.NoError(t, err)
	assert.Equal(t, "ses-123", sent.ProviderID)
	assert.Equal(t, "sesv2", sent.Transport)

	require.NotNil(t, input)
	assert.Contains(t, string(input.Content.Raw.Data), "Subject: Hello")
	assert.NotContains(t, string(input.Content.Raw.Data), "hidden@example.com")
	assert.Equal(t, []string{"a@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, []string{"hidden@example.com"}, input.Destination.BccAddresses)
	assert.Equal(t, "bounce@example.com", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, "bounce@example.com", aws.ToString(input.FeedbackForwardingEmailAddress))
	assert.Equal(t, "transactional", aws.ToString(input.ConfigurationSetName))

	require.Len(t, input.EmailTags, 2)
	assert.Equal(t, "env", aws.ToString(input.EmailTags[0].Name))
	assert.Equal(t, "user_id", aws.ToString(input.EmailTags[1].Name))
	assert.Equal(t, "42", aws.ToString(input.EmailTags[1].Value))
	client.AssertExpectations(t)
}

func TestTransport_Names(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ses", ses.New(&MockClient{}).Name())
	assert.Equal(t, "sesv2", ses.NewV2(&MockClient{}).Name())
}

func TestTransport_ErrorCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want error
	}{
		{code: "TooManyRequestsException", want: ses.ErrRateLimited},
		{code: "MessageRejected", want: mailer.ErrProviderRejected},
		{code: "MailFromDomainNotVerifiedException", want: ses.ErrUnverified},
		{code: "ServiceUnavailableException", want: ses.ErrService},
		{code: "SomethingElse", want: ses.ErrSend},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()

			client := &MockClient{}
			client.On("SendEmail", mock.Anything, mock.Anything).
				Return(nil, &smithy.GenericAPIError{Code: tt.code, Message: "nope"})

			_, err := ses.New(client).Send(context.Background(), newEmail(t))
			require.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.code)
		})
	}

	client := &MockClient{}
	client.On("SendEmail", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: timeout"))
	_, err := ses.New(client).Send(context.Background(), newEmail(t))
	require.ErrorIs(t, err, ses.ErrSend)
}

func TestConfig_HasStaticCredentials(t *testing.T) {
	t.Parallel()

	assert.True(t, ses.Config{Key: "k", Secret: "s"}.HasStaticCredentials())
	assert.False(t, ses.Config{Key: "k"}.HasStaticCredentials())
	assert.False(t, ses.Config{Secret: "s", Token: "t"}.HasStaticCredentials())
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	tr, err := ses.FromConfig(context.Background(), "ses", ses.Config{
		Key:    "AKIDEXAMPLE",
		Secret: "secret",
		Region: "eu-west-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses", tr.Name())
}
