// Package catalog holds the compile-time Archive Catalog: the set of known
// route collectors, their project, archive root URL, and activation date.
// Immutable after startup — the one exception to the "explicit config,
// threaded through" rule, because it is build-time knowledge rather than
// deployment-time configuration.
package catalog

import (
	"strings"
	"time"

	"github.com/bgpkit/broker/pkg/broker"
)

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic("catalog: bad activation date " + s + ": " + err.Error())
	}
	return t
}

const (
	risCadence = 5 * time.Minute
	rvCadence  = 15 * time.Minute
)

// collectors is the bundled catalog. Activation dates are the project's
// historical launch dates for that collector; new collectors upstream
// projects stand up between releases are simply absent until the catalog is
// refreshed (see SPEC_FULL.md Open Questions — this is an accepted
// operational limitation, not a bug).
var collectors = []broker.Collector{
	{Name: "rrc00", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc00", ActivatedOn: mustDate("2001-01-01"), UpdatesCadence: risCadence},
	{Name: "rrc01", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc01", ActivatedOn: mustDate("1999-12-22"), UpdatesCadence: risCadence},
	{Name: "rrc03", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc03", ActivatedOn: mustDate("2000-03-01"), UpdatesCadence: risCadence},
	{Name: "rrc04", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc04", ActivatedOn: mustDate("2001-04-01"), UpdatesCadence: risCadence},
	{Name: "rrc05", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc05", ActivatedOn: mustDate("2001-05-01"), UpdatesCadence: risCadence},
	{Name: "rrc06", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc06", ActivatedOn: mustDate("2001-06-01"), UpdatesCadence: risCadence},
	{Name: "rrc07", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc07", ActivatedOn: mustDate("2001-10-01"), UpdatesCadence: risCadence},
	{Name: "rrc10", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc10", ActivatedOn: mustDate("2003-06-01"), UpdatesCadence: risCadence},
	{Name: "rrc11", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc11", ActivatedOn: mustDate("2004-04-01"), UpdatesCadence: risCadence},
	{Name: "rrc12", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc12", ActivatedOn: mustDate("2004-10-01"), UpdatesCadence: risCadence},
	{Name: "rrc13", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc13", ActivatedOn: mustDate("2005-07-01"), UpdatesCadence: risCadence},
	{Name: "rrc14", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc14", ActivatedOn: mustDate("2005-10-01"), UpdatesCadence: risCadence},
	{Name: "rrc15", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc15", ActivatedOn: mustDate("2006-02-01"), UpdatesCadence: risCadence},
	{Name: "rrc16", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc16", ActivatedOn: mustDate("2006-06-01"), UpdatesCadence: risCadence},
	{Name: "rrc18", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc18", ActivatedOn: mustDate("2008-04-01"), UpdatesCadence: risCadence},
	{Name: "rrc19", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc19", ActivatedOn: mustDate("2009-04-01"), UpdatesCadence: risCadence},
	{Name: "rrc20", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc20", ActivatedOn: mustDate("2009-06-01"), UpdatesCadence: risCadence},
	{Name: "rrc21", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc21", ActivatedOn: mustDate("2010-09-01"), UpdatesCadence: risCadence},
	{Name: "rrc22", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc22", ActivatedOn: mustDate("2011-04-01"), UpdatesCadence: risCadence},
	{Name: "rrc23", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc23", ActivatedOn: mustDate("2011-09-01"), UpdatesCadence: risCadence},
	{Name: "rrc24", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc24", ActivatedOn: mustDate("2013-05-01"), UpdatesCadence: risCadence},
	{Name: "rrc25", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc25", ActivatedOn: mustDate("2017-11-01"), UpdatesCadence: risCadence},
	{Name: "rrc26", Project: broker.ProjectRIPERIS, DataURL: "https://data.ris.ripe.net/rrc26", ActivatedOn: mustDate("2018-07-01"), UpdatesCadence: risCadence},

	{Name: "route-views2", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org", ActivatedOn: mustDate("2001-02-01"), UpdatesCadence: rvCadence},
	{Name: "route-views3", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views3", ActivatedOn: mustDate("2008-04-01"), UpdatesCadence: rvCadence},
	{Name: "route-views4", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views4", ActivatedOn: mustDate("2012-02-01"), UpdatesCadence: rvCadence},
	{Name: "route-views6", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views6", ActivatedOn: mustDate("2003-10-01"), UpdatesCadence: rvCadence},
	{Name: "amsix.ams", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views.amsix", ActivatedOn: mustDate("2011-09-01"), UpdatesCadence: rvCadence},
	{Name: "eqix.sg", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views.eqix", ActivatedOn: mustDate("2012-03-01"), UpdatesCadence: rvCadence},
	{Name: "linx.lon", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views.linx", ActivatedOn: mustDate("2012-08-01"), UpdatesCadence: rvCadence},
	{Name: "wide.tyo", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views.wide", ActivatedOn: mustDate("2002-11-01"), UpdatesCadence: rvCadence},
	{Name: "isc.pao", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views.isc", ActivatedOn: mustDate("2005-05-01"), UpdatesCadence: rvCadence},
	{Name: "siex.sin", Project: broker.ProjectRouteViews, DataURL: "https://archive.routeviews.org/route-views.siex", ActivatedOn: mustDate("2019-06-01"), UpdatesCadence: rvCadence},
}

// All returns the full bundled catalog.
func All() []broker.Collector {
	out := make([]broker.Collector, len(collectors))
	copy(out, collectors)
	return out
}

// ByName looks up a collector by exact name.
func ByName(name string) (broker.Collector, bool) {
	for _, c := range collectors {
		if c.Name == name {
			return c, true
		}
	}
	return broker.Collector{}, false
}

// ByProject returns every collector belonging to the given project. Accepts
// both "route-views" and "routeviews" spellings.
func ByProject(project string) []broker.Collector {
	norm := strings.ToLower(project)
	if norm == "routeviews" {
		norm = string(broker.ProjectRouteViews)
	}
	var out []broker.Collector
	for _, c := range collectors {
		if string(c.Project) == norm {
			out = append(out, c)
		}
	}
	return out
}

// Names returns just the names of every collector in the given project, or
// every collector's name if project is empty.
func Names(project string) []string {
	var src []broker.Collector
	if project == "" {
		src = collectors
	} else {
		src = ByProject(project)
	}
	out := make([]string, len(src))
	for i, c := range src {
		out[i] = c.Name
	}
	return out
}
