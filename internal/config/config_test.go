package config

import "testing"

func TestParseForward(t *testing.T) {
	f, err := parseForward("127.0.0.1:8080,10.0.0.5:80")
	if err != nil {
		t.Fatalf("parseForward: %v", err)
	}
	if f.ListenAddr != "127.0.0.1:8080" || f.Host != "10.0.0.5" || f.Port != 80 {
		t.Fatalf("forward = %+v", f)
	}
}

func TestParseForwardRejectsMissingComma(t *testing.T) {
	if _, err := parseForward("127.0.0.1:8080"); err == nil {
		t.Fatal("expected error for missing comma")
	}
}

func TestValidateRequiresIPAndForward(t *testing.T) {
	p := &Parsed{Config: Config{PoolSize: 32}}
	if err := p.validate(); err == nil {
		t.Fatal("expected error: missing --ip")
	}

	p.IP = "10.1.2.3"
	if err := p.validate(); err == nil {
		t.Fatal("expected error: no forwards configured")
	}

	p.DynamicForward = "127.0.0.1:1080"
	if err := p.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
