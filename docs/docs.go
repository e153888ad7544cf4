// Package docs AllerBuddy API.
//
// Documentation of the AllerBuddy emergency coordination API.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//     Host: https://allerbuddy-api.herokuapp.com
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//     Security:
//     - basic
//
//    SecurityDefinitions:
//    basic:
//      type: basic
//
// swagger:meta
package docs

import (
	"github.com/allerbuddy/allerbuddy-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route GET /api/v1/emergency/{emergency_id} emergency emergencyByID
// Gets a single emergency by ID.
// responses:
//   200: emergencyByIDResponse

// Shows a single emergency by the given {ID}
// swagger:response emergencyByIDResponse
type emergencyByIDResponseWrapper struct {
	// in:body
	Body models.Emergency
}
