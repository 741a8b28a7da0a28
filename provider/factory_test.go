package provider

import (
	"context"
	"errors"
	"testing"

	"receiptly/model"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name           string
		config         Config
		expectError    bool
		expectName     string
		expectModel    string
		wantConfigured bool
	}{
		{
			name:        "ollama provider with defaults",
			config:      Config{Type: ProviderTypeOllama},
			expectName:  "ollama",
			expectModel: "llama3.1:latest",
		},
		{
			name: "ollama provider with custom config",
			config: Config{
				Type:    ProviderTypeOllama,
				BaseURL: "http://localhost:11434",
				Model:   "qwen2.5",
			},
			expectName:     "ollama",
			expectModel:    "qwen2.5",
			wantConfigured: true,
		},
		{
			name: "openai provider",
			config: Config{
				Type:   ProviderTypeOpenAI,
				Model:  "gpt-4o-mini",
				APIKey: "test-key",
			},
			expectName:     "openai",
			expectModel:    "gpt-4o-mini",
			wantConfigured: true,
		},
		{
			name: "anthropic provider",
			config: Config{
				Type:   ProviderTypeAnthropic,
				Model:  "claude-sonnet-4-5-20250929",
				APIKey: "test-key",
			},
			expectName:     "anthropic",
			expectModel:    "claude-sonnet-4-5-20250929",
			wantConfigured: true,
		},
		{
			name:        "openrouter provider without key",
			config:      Config{Type: ProviderTypeOpenRouter},
			expectName:  "openrouter",
			expectModel: defaultOpenRouterModel,
		},
		{
			name:           "google stub",
			config:         Config{Type: ProviderTypeGoogle, APIKey: "k"},
			expectName:     "google",
			expectModel:    "gemini-2.5-flash",
			wantConfigured: true,
		},
		{
			name:        "unknown provider type",
			config:      Config{Type: ProviderType("unknown")},
			expectError: true,
		},
		{
			name:        "malformed ollama host",
			config:      Config{Type: ProviderTypeOllama, BaseURL: "http://[::1"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if p != nil {
					t.Errorf("expected nil provider, got %T", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.expectName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.expectName)
			}
			if p.GetModel() != tt.expectModel {
				t.Errorf("GetModel() = %q, want %q", p.GetModel(), tt.expectModel)
			}
			if p.IsConfigured() != tt.wantConfigured {
				t.Errorf("IsConfigured() = %v, want %v", p.IsConfigured(), tt.wantConfigured)
			}
		})
	}
}

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"anthropic", ProviderTypeAnthropic, false},
		{"Claude", ProviderTypeAnthropic, false},
		{" openai ", ProviderTypeOpenAI, false},
		{"openrouter", ProviderTypeOpenRouter, false},
		{"gemini", ProviderTypeGoogle, false},
		{"LOCAL", ProviderTypeOllama, false},
		{"bedrock", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProviderType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProviderType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProviderType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnconfiguredProvidersFailOnFirstCall(t *testing.T) {
	for _, typ := range []ProviderType{ProviderTypeAnthropic, ProviderTypeOpenAI, ProviderTypeOpenRouter, ProviderTypeOllama} {
		t.Run(string(typ), func(t *testing.T) {
			p, err := NewProvider(Config{Type: typ})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, err = p.Chat(context.Background(), singleUser("hi"), model.ChatOptions{})
			if !errors.Is(err, model.ErrNotConfigured) {
				t.Fatalf("Chat() error = %v, want ErrNotConfigured", err)
			}
			_, err = p.Vision(context.Background(), "aGk=", "image/png", "what is this?", nil)
			if !errors.Is(err, model.ErrNotConfigured) {
				t.Fatalf("Vision() error = %v, want ErrNotConfigured", err)
			}
		})
	}
}

func TestGoogleProviderNotImplemented(t *testing.T) {
	p := NewGoogleProvider(Config{APIKey: "key"})

	_, err := p.Chat(context.Background(), singleUser("hi"), model.ChatOptions{})
	if !errors.Is(err, model.ErrNotImplemented) {
		t.Fatalf("Chat() error = %v, want ErrNotImplemented", err)
	}
	var nie *model.NotImplementedError
	if !errors.As(err, &nie) || nie.Dependency != googleDependency {
		t.Fatalf("expected NotImplementedError naming %s, got %v", googleDependency, err)
	}

	if _, err := p.Vision(context.Background(), "", "image/png", "", nil); !errors.Is(err, model.ErrNotImplemented) {
		t.Fatalf("Vision() error = %v, want ErrNotImplemented", err)
	}
}

func singleUser(text string) []model.Message {
	return []model.Message{model.UserText(text)}
}
