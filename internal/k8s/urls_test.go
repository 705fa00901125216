package k8s

import "testing"

func TestURLTemplates_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    URLTemplates
		wantErr bool
	}{
		{"valid", URLTemplates{Production: "https://{project_name}.rise.app", Staging: "https://{deployment_group}.{project_name}.rise.app"}, false},
		{"missing project_name in production", URLTemplates{Production: "https://rise.app", Staging: "https://{deployment_group}.{project_name}.rise.app"}, true},
		{"missing deployment_group in staging", URLTemplates{Production: "https://{project_name}.rise.app", Staging: "https://{project_name}.rise.app"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolve_DefaultGroupUsesProduction(t *testing.T) {
	tmpl := URLTemplates{
		Production: "https://{project_name}.rise.app",
		Staging:    "https://{deployment_group}.{project_name}.staging.rise.app",
	}

	resolved, err := Resolve(tmpl, "acme", DefaultGroup)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Host != "acme.rise.app" {
		t.Errorf("Host = %q, want %q", resolved.Host, "acme.rise.app")
	}
	if resolved.PathPrefix != "" {
		t.Errorf("PathPrefix = %q, want empty", resolved.PathPrefix)
	}
}

func TestResolve_OtherGroupUsesStaging(t *testing.T) {
	tmpl := URLTemplates{
		Production: "https://{project_name}.rise.app",
		Staging:    "https://{deployment_group}.{project_name}.staging.rise.app",
	}

	resolved, err := Resolve(tmpl, "acme", "mr/26")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Host != "mr--26.acme.staging.rise.app" {
		t.Errorf("Host = %q, want %q", resolved.Host, "mr--26.acme.staging.rise.app")
	}
}

func TestResolve_PathPrefix(t *testing.T) {
	tmpl := URLTemplates{
		Production: "https://rise.app/{project_name}",
		Staging:    "https://rise.app/{project_name}/{deployment_group}",
	}

	resolved, err := Resolve(tmpl, "acme", DefaultGroup)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.PathPrefix != "/acme" {
		t.Errorf("PathPrefix = %q, want %q", resolved.PathPrefix, "/acme")
	}
}
