package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type testPayload struct {
	VehicleClass string `json:"vehicle_class" validate:"required,min=3"`
	Residency    string `json:"residency" validate:"required,oneof=GB FR DE US"`
	Email        string `json:"email" validate:"omitempty,email"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid JSON",
			body:    `{"vehicle_class":"ECAR","residency":"GB"}`,
			wantErr: false,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: true,
			errMsg:  "request body is empty",
		},
		{
			name:    "invalid JSON",
			body:    `{invalid}`,
			wantErr: true,
			errMsg:  "invalid JSON",
		},
		{
			name:    "unknown field",
			body:    `{"vehicle_class":"ECAR","unknown":"field"}`,
			wantErr: true,
			errMsg:  "invalid JSON",
		},
		{
			name:    "trailing data",
			body:    `{"vehicle_class":"ECAR"}{"extra":true}`,
			wantErr: true,
			errMsg:  "request body must contain a single JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p testPayload
			err := Decode(r, &p)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && tt.errMsg != "" {
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %q, want to contain %q", err.Error(), tt.errMsg)
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		payload   testPayload
		wantCount int
	}{
		{
			name:      "valid payload",
			payload:   testPayload{VehicleClass: "ECAR", Residency: "GB"},
			wantCount: 0,
		},
		{
			name:      "missing required fields",
			payload:   testPayload{},
			wantCount: 2, // vehicle_class and residency
		},
		{
			name:      "vehicle class too short",
			payload:   testPayload{VehicleClass: "ab", Residency: "GB"},
			wantCount: 1,
		},
		{
			name:      "invalid residency",
			payload:   testPayload{VehicleClass: "ECAR", Residency: "ZZ"},
			wantCount: 1,
		},
		{
			name:      "invalid email",
			payload:   testPayload{VehicleClass: "ECAR", Residency: "GB", Email: "not-an-email"},
			wantCount: 1,
		},
		{
			name:      "valid email",
			payload:   testPayload{VehicleClass: "ECAR", Residency: "GB", Email: "user@example.com"},
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.payload)
			if len(errs) != tt.wantCount {
				t.Errorf("Validate() returned %d errors, want %d: %+v", len(errs), tt.wantCount, errs)
			}
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantOK     bool
		wantStatus int
	}{
		{
			name:   "valid request",
			body:   `{"vehicle_class":"ECAR","residency":"GB"}`,
			wantOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{bad}`,
			wantOK:     false,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing required fields",
			body:       `{"vehicle_class":"ab"}`,
			wantOK:     false,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var p testPayload
			ok := DecodeAndValidate(w, r, &p)
			if ok != tt.wantOK {
				t.Errorf("DecodeAndValidate() = %v, want %v", ok, tt.wantOK)
			}
			if !ok && w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VehicleClass", "vehicle_class"},
		{"CreatedAt", "created_at"},
		{"ID", "i_d"},
		{"PageSize", "page_size"},
		{"lowercase", "lowercase"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := toSnakeCase(tt.in)
			if got != tt.want {
				t.Errorf("toSnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
