package analyzer

import (
	"net"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"

	"github.com/oschwald/geoip2-golang"
)

// GeoEnricher 用 GeoIP 城市库和 ASN 库补充目的地址的国家和运营商
type GeoEnricher struct {
	geoIP *geoip2.Reader
	asnDB *geoip2.Reader
}

func NewGeoEnricher(geoIP, asnDB *geoip2.Reader) *GeoEnricher {
	return &GeoEnricher{geoIP: geoIP, asnDB: asnDB}
}

func (g *GeoEnricher) Enrich(d *models.Detection) {
	ip := net.ParseIP(d.RemoteIP)
	if ip == nil {
		return
	}

	if g.geoIP != nil {
		city, err := g.geoIP.City(ip)
		if err != nil {
			logger.Log.Errorf("GeoIP查询失败: %v", err)
		} else {
			d.Country = city.Country.IsoCode
		}
	}

	if g.asnDB != nil {
		asn, err := g.asnDB.ASN(ip)
		if err != nil {
			logger.Log.Errorf("ASN查询失败: %v", err)
		} else {
			d.ASN = asn.AutonomousSystemNumber
			d.ASOrg = asn.AutonomousSystemOrganization
		}
	}
}
