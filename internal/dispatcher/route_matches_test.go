package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulse/internal/domain"
)

func baseAlert() domain.FleetAlert {
	return domain.FleetAlert{
		Severity:  3,
		AlertType: domain.AlertThreshold,
		SiteID:    "site-1",
		DeviceID:  "sensor-42",
	}
}

func TestRouteMatchesRequiresDeliverOnEvent(t *testing.T) {
	route := domain.IntegrationRoute{DeliverOn: []domain.DeliverOn{domain.DeliverOnClosed}}
	assert.False(t, RouteMatches(route, baseAlert(), domain.DeliverOnOpen))
}

func TestRouteMatchesMinSeverityRejectsLessSevere(t *testing.T) {
	min := 2
	route := domain.IntegrationRoute{DeliverOn: []domain.DeliverOn{domain.DeliverOnOpen}, MinSeverity: &min}
	alert := baseAlert()
	alert.Severity = 3 // numerically higher = less severe than floor of 2
	assert.False(t, RouteMatches(route, alert, domain.DeliverOnOpen))
}

func TestRouteMatchesMinSeverityAllowsMoreSevere(t *testing.T) {
	min := 3
	route := domain.IntegrationRoute{DeliverOn: []domain.DeliverOn{domain.DeliverOnOpen}, MinSeverity: &min}
	alert := baseAlert()
	alert.Severity = 1
	assert.True(t, RouteMatches(route, alert, domain.DeliverOnOpen))
}

func TestRouteMatchesAlertTypeFilter(t *testing.T) {
	route := domain.IntegrationRoute{
		DeliverOn: []domain.DeliverOn{domain.DeliverOnOpen},
		AlertTypes: []domain.AlertType{domain.AlertAnomaly},
	}
	assert.False(t, RouteMatches(route, baseAlert(), domain.DeliverOnOpen))
}

func TestRouteMatchesSiteFilter(t *testing.T) {
	route := domain.IntegrationRoute{
		DeliverOn: []domain.DeliverOn{domain.DeliverOnOpen},
		SiteIDs:   []string{"site-9"},
	}
	assert.False(t, RouteMatches(route, baseAlert(), domain.DeliverOnOpen))
}

func TestRouteMatchesDevicePrefixFilter(t *testing.T) {
	route := domain.IntegrationRoute{
		DeliverOn:      []domain.DeliverOn{domain.DeliverOnOpen},
		DevicePrefixes: []string{"sensor-"},
	}
	assert.True(t, RouteMatches(route, baseAlert(), domain.DeliverOnOpen))

	route.DevicePrefixes = []string{"camera-"}
	assert.False(t, RouteMatches(route, baseAlert(), domain.DeliverOnOpen))
}

func TestRouteMatchesNoFiltersMeansMatchAll(t *testing.T) {
	route := domain.IntegrationRoute{DeliverOn: []domain.DeliverOn{domain.DeliverOnOpen}}
	assert.True(t, RouteMatches(route, baseAlert(), domain.DeliverOnOpen))
}
