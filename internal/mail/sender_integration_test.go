package mail

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"testing"

	"portalbridge/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSMTPSenderIntegration(t *testing.T) {
	if os.Getenv("PORTALBRIDGE_INTEGRATION") != "1" {
		t.Skip("set PORTALBRIDGE_INTEGRATION=1 to run against a containerized smtp server")
	}
	ctx := context.Background()

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	smtpServer, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025/tcp", "1080/tcp"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, smtpServer.Terminate(ctx))
	}()

	smtpPort, err := smtpServer.MappedPort(ctx, "1025/tcp")
	require.NoError(t, err)
	httpPort, err := smtpServer.MappedPort(ctx, "1080/tcp")
	require.NoError(t, err)

	sender := NewSMTPSender(config.SMTP{
		Host:     "localhost",
		Port:     smtpPort.Int(),
		Security: "plain",
		Username: "bridge@example.org",
		Password: "default",
	}, "bridge@example.org")

	m := Message{
		To:      []string{"parent@example.org"},
		Subject: "New announcement: field trip",
		Text:    "The field trip moves to Friday.",
	}
	ThreadHeaders(&m, "portal", "announcements", "5", 0, "example.org")
	require.NoError(t, sender.Send(ctx, m))

	res, err := resty.New().R().
		SetContext(ctx).
		Get(fmt.Sprintf("http://localhost:%d/messages/1.plain", httpPort.Int()))
	require.NoError(t, err)
	require.Contains(t, res.String(), "The field trip moves to Friday.")
}
