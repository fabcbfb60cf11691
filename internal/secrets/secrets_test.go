package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type mockSM struct {
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSM) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return m.GetSecretValueFunc(ctx, params, optFns...)
}

func TestResolvePassthrough(t *testing.T) {
	r := NewResolverWithClient(&mockSM{
		GetSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			t.Fatal("plain values must not hit secrets manager")
			return nil, nil
		},
	})

	got, err := r.Resolve(context.Background(), "postgres://localhost/gw")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "postgres://localhost/gw" {
		t.Errorf("got %q", got)
	}
}

func TestResolveSecretReference(t *testing.T) {
	r := NewResolverWithClient(&mockSM{
		GetSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			if *params.SecretId != "prod/db-url" {
				t.Errorf("secret id = %q", *params.SecretId)
			}
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("postgres://real")}, nil
		},
	})

	got, err := r.Resolve(context.Background(), "aws-sm://prod/db-url")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "postgres://real" {
		t.Errorf("got %q", got)
	}
}

func TestResolveSecretError(t *testing.T) {
	r := NewResolverWithClient(&mockSM{
		GetSecretValueFunc: func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return nil, errors.New("access denied")
		},
	})

	if _, err := r.Resolve(context.Background(), "aws-sm://prod/db-url"); err == nil {
		t.Error("expected error")
	}
}
