// Copyright (C) 2026 the vibekit authors
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vibekit/vibekit/pkg/agent"
	"github.com/vibekit/vibekit/pkg/config"
	"github.com/vibekit/vibekit/pkg/dockerclient"
)

// ecrAPI is the slice of the ECR client the provider uses; tests stub it.
type ecrAPI interface {
	DescribeRegistry(ctx context.Context, in *ecr.DescribeRegistryInput, opts ...func(*ecr.Options)) (*ecr.DescribeRegistryOutput, error)
	DescribeRepositories(ctx context.Context, in *ecr.DescribeRepositoriesInput, opts ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, in *ecr.CreateRepositoryInput, opts ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, opts ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECR is the AWS Elastic Container Registry provider. The host is derived
// from the account id and region; repositories must exist before push, so
// UploadImages creates them on demand.
type ECR struct {
	docker dockerclient.Client
	region string

	mu        sync.Mutex
	api       ecrAPI
	accountID string
}

var _ Provider = (*ECR)(nil)

func NewECR(docker dockerclient.Client, region string) *ECR {
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = os.Getenv("AWS_DEFAULT_REGION")
		}
	}
	return &ECR{docker: docker, region: region}
}

func (e *ECR) Kind() string { return config.RegistryECR }

func (e *ECR) client(ctx context.Context) (ecrAPI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.api != nil {
		return e.api, nil
	}
	if e.region == "" {
		return nil, errors.New("AWS region not set (AWS_REGION)")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(e.region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	e.api = ecr.NewFromConfig(cfg)
	return e.api, nil
}

func (e *ECR) account(ctx context.Context) (string, error) {
	e.mu.Lock()
	cached := e.accountID
	e.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	api, err := e.client(ctx)
	if err != nil {
		return "", err
	}
	out, err := api.DescribeRegistry(ctx, &ecr.DescribeRegistryInput{})
	if err != nil {
		return "", errors.Wrap(err, "failed to describe ECR registry")
	}
	if out.RegistryId == nil || *out.RegistryId == "" {
		return "", errors.New("ECR returned no registry id")
	}
	e.mu.Lock()
	e.accountID = *out.RegistryId
	e.mu.Unlock()
	return *out.RegistryId, nil
}

// RegistryURL is best-effort outside a request context; it resolves the
// account lazily and returns "" until that has happened once.
func (e *ECR) RegistryURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accountID == "" {
		return ""
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", e.accountID, e.region)
}

func (e *ECR) host(ctx context.Context) (string, error) {
	account, err := e.account(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", account, e.region), nil
}

func (e *ECR) CheckLogin(ctx context.Context) (*dockerclient.LoginStatus, error) {
	status := &dockerclient.LoginStatus{}
	host, err := e.host(ctx)
	if err != nil {
		logrus.Debugf("ECR login check: %s", err)
		return status, nil
	}
	status.Registry = host
	status.LoggedIn = true
	status.User = "AWS"
	return status, nil
}

// Login exchanges an ECR authorization token for daemon credentials on the
// account host. The user argument is ignored; ECR logins are always "AWS".
func (e *ECR) Login(ctx context.Context, _ string) error {
	api, err := e.client(ctx)
	if err != nil {
		return err
	}
	host, err := e.host(ctx)
	if err != nil {
		return err
	}
	out, err := api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return errors.Wrap(dockerclient.ErrAuthRequired, err.Error())
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return errors.Wrap(dockerclient.ErrAuthRequired, "ECR returned no authorization data")
	}
	decoded, err := base64.StdEncoding.DecodeString(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return errors.Wrap(err, "malformed ECR authorization token")
	}
	user, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return errors.New("malformed ECR authorization token")
	}
	return e.docker.Login(ctx, user, password, host)
}

func (e *ECR) ImageName(ctx context.Context, kind agent.Kind, _ string) (string, error) {
	host, err := e.host(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s:latest", host, kind.Repository()), nil
}

// ensureRepository creates the per-agent repository when it does not exist
// yet; pushes to ECR fail otherwise.
func (e *ECR) ensureRepository(ctx context.Context, name string) error {
	api, err := e.client(ctx)
	if err != nil {
		return err
	}
	_, err = api.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil {
		return nil
	}
	var notFound *ecrtypes.RepositoryNotFoundException
	if !errors.As(err, &notFound) {
		return errors.Wrapf(err, "failed to describe ECR repository %s", name)
	}
	logrus.Infof("creating ECR repository %s", name)
	if _, err := api.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: &name,
	}); err != nil {
		return errors.Wrapf(err, "failed to create ECR repository %s", name)
	}
	return nil
}

func (e *ECR) UploadImages(ctx context.Context, user string, kinds []agent.Kind) (*UploadSummary, error) {
	if err := e.Login(ctx, user); err != nil {
		return nil, err
	}
	host, err := e.host(ctx)
	if err != nil {
		return nil, err
	}
	return uploadAll(ctx, e.docker, kinds, func(k agent.Kind) (string, error) {
		return fmt.Sprintf("%s/%s:latest", host, k.Repository()), nil
	}, func(ctx context.Context, k agent.Kind) error {
		return e.ensureRepository(ctx, k.Repository())
	})
}

func (e *ECR) Pull(ctx context.Context, ref string) error {
	return e.docker.Pull(ctx, ref)
}

func (e *ECR) ImageExistsLocally(ctx context.Context, ref string) (bool, error) {
	return e.docker.ImageExists(ctx, ref)
}
