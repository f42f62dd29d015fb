package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const bedrockServiceName = "bedrock"

// bedrockSigningTransport signs outgoing requests with SigV4 so the engine
// can call Bedrock-hosted models with standard AWS credentials.
type bedrockSigningTransport struct {
	base   http.RoundTripper
	signer *v4.Signer
	creds  aws.CredentialsProvider
	region string
}

// NewBedrockSigningTransport returns an http.RoundTripper that SigV4-signs
// requests for the Bedrock service. Credentials come from the default AWS
// chain (env, shared config, instance role). An empty region falls back to
// AWS_REGION, then AWS_DEFAULT_REGION, then us-east-1.
func NewBedrockSigningTransport(region string, base http.RoundTripper) (http.RoundTripper, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if base == nil {
		base = http.DefaultTransport
	}
	return &bedrockSigningTransport{
		base:   base,
		signer: v4.NewSigner(),
		creds:  cfg.Credentials,
		region: region,
	}, nil
}

func (t *bedrockSigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Signing needs the payload hash, so the body has to be materialized.
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body for signing: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(payload))
		req.ContentLength = int64(len(payload))
	}
	hash := sha256.Sum256(payload)

	creds, err := t.creds.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("retrieve aws credentials: %w", err)
	}

	if err := t.signer.SignHTTP(req.Context(), creds, req,
		hex.EncodeToString(hash[:]), bedrockServiceName, t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return t.base.RoundTrip(req)
}
