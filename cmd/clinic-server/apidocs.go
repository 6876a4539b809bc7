package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/scheduler/internal/platform/openapi"
)

type schema = map[string]interface{}

func str(format string) schema {
	if format == "" {
		return schema{"type": "string"}
	}
	return schema{"type": "string", "format": format}
}

func object(required []string, props schema) schema {
	s := schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// apiDocs describes the /api/v1 surface. Paths are read from the router at
// request time, so routes added later are listed too.
func apiDocs(e *echo.Echo) *openapi.Generator {
	g := openapi.NewGenerator("Clinic Scheduling API", serviceVersion, "/api/v1", e.Routes)

	states := schema{"type": "string", "enum": []string{"pending", "confirmed", "completed", "cancelled"}}
	g.AddSchema("Appointment", object(nil, schema{
		"id":               str("uuid"),
		"patient_id":       str("uuid"),
		"provider_id":      str("uuid"),
		"start":            str("date-time"),
		"end":              str("date-time"),
		"duration_minutes": schema{"type": "integer"},
		"reason":           str(""),
		"state":            states,
		"notes":            str(""),
		"actions":          schema{"type": "array", "items": str("")},
		"created_at":       str("date-time"),
		"updated_at":       str("date-time"),
	}))
	g.AddSchema("CreateAppointment", object([]string{"patient_id", "provider_id", "start", "duration_minutes", "reason"}, schema{
		"patient_id":       str("uuid"),
		"provider_id":      str("uuid"),
		"start":            str("date-time"),
		"duration_minutes": schema{"type": "integer", "minimum": 1},
		"reason":           str(""),
	}))
	g.AddSchema("EditAppointment", object(nil, schema{
		"start":            str("date-time"),
		"duration_minutes": schema{"type": "integer", "minimum": 1},
		"reason":           str(""),
	}))
	g.AddSchema("Transition", object(nil, schema{
		"reason": str(""),
		"notes":  str(""),
	}))
	g.AddSchema("Patient", object([]string{"mrn", "first_name", "last_name"}, schema{
		"id":                   str("uuid"),
		"mrn":                  str(""),
		"first_name":           str(""),
		"last_name":            str(""),
		"birth_date":           str("date-time"),
		"phone":                str(""),
		"email":                str("email"),
		"assigned_provider_id": str("uuid"),
		"active":               schema{"type": "boolean"},
	}))
	g.AddSchema("Provider", object([]string{"first_name", "last_name"}, schema{
		"id":         str("uuid"),
		"first_name": str(""),
		"last_name":  str(""),
		"role":       schema{"type": "string", "enum": []string{"administrator", "provider", "front_desk", "support"}},
		"specialty":  str(""),
		"active":     schema{"type": "boolean"},
	}))
	g.AddSchema("BusinessHours", object(nil, schema{
		"name":     str(""),
		"workdays": schema{"type": "array", "items": str("")},
		"open":     str(""),
		"close":    str(""),
		"timezone": str(""),
	}))

	g.Describe(http.MethodGet, "/appointments", openapi.Operation{
		Summary: "List appointments visible to the caller", Response: "Appointment", List: true,
		Query: []string{"provider_id", "patient_id", "state", "from", "to"},
	})
	g.Describe(http.MethodPost, "/appointments", openapi.Operation{Summary: "Book an appointment", Request: "CreateAppointment", Response: "Appointment"})
	g.Describe(http.MethodGet, "/appointments/:id", openapi.Operation{Summary: "Get an appointment", Response: "Appointment"})
	g.Describe(http.MethodPut, "/appointments/:id", openapi.Operation{Summary: "Edit or reschedule an appointment", Request: "EditAppointment", Response: "Appointment"})
	g.Describe(http.MethodPatch, "/appointments/:id", openapi.Operation{Summary: "Edit or reschedule an appointment", Request: "EditAppointment", Response: "Appointment"})
	g.Describe(http.MethodDelete, "/appointments/:id", openapi.Operation{Summary: "Delete an appointment", Status: http.StatusNoContent})
	g.Describe(http.MethodPost, "/appointments/:id/confirm", openapi.Operation{Summary: "Confirm a pending appointment", Response: "Appointment"})
	g.Describe(http.MethodPost, "/appointments/:id/cancel", openapi.Operation{Summary: "Cancel an appointment", Request: "Transition", Response: "Appointment"})
	g.Describe(http.MethodPost, "/appointments/:id/complete", openapi.Operation{Summary: "Complete a confirmed appointment", Request: "Transition", Response: "Appointment"})
	g.Describe(http.MethodGet, "/patients/:id/appointments", openapi.Operation{Summary: "Appointment history of a patient", Response: "Appointment", List: true})
	g.Describe(http.MethodGet, "/business-hours", openapi.Operation{Summary: "Clinic operating hours", Response: "BusinessHours"})

	g.Describe(http.MethodGet, "/patients", openapi.Operation{Summary: "List patients", Response: "Patient", List: true, Query: []string{"active"}})
	g.Describe(http.MethodPost, "/patients", openapi.Operation{Summary: "Register a patient", Request: "Patient", Response: "Patient"})
	g.Describe(http.MethodGet, "/patients/:id", openapi.Operation{Summary: "Get a patient", Response: "Patient"})
	g.Describe(http.MethodPut, "/patients/:id", openapi.Operation{Summary: "Update a patient", Request: "Patient", Response: "Patient"})
	g.Describe(http.MethodDelete, "/patients/:id", openapi.Operation{Summary: "Deactivate a patient", Status: http.StatusNoContent})
	g.Describe(http.MethodGet, "/providers", openapi.Operation{Summary: "List staff", Response: "Provider", List: true, Query: []string{"active"}})
	g.Describe(http.MethodPost, "/providers", openapi.Operation{Summary: "Register a staff member", Request: "Provider", Response: "Provider"})
	g.Describe(http.MethodGet, "/providers/:id", openapi.Operation{Summary: "Get a staff member", Response: "Provider"})
	g.Describe(http.MethodPut, "/providers/:id", openapi.Operation{Summary: "Update a staff member", Request: "Provider", Response: "Provider"})
	g.Describe(http.MethodDelete, "/providers/:id", openapi.Operation{Summary: "Deactivate a staff member", Status: http.StatusNoContent})
	return g
}
