// Package visits defines the visit record, its persistence contract and the
// session classifier that decides whether a visitor is new or returning.
package visits

import "time"

// Device classes
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Visit is one accepted tracking event with its enrichment.
// IP and UserAgent are stored but never serialized to API output.
type Visit struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id,omitempty" bson:"-"`

	SessionID string `gorm:"column:session_id;not null;index:idx_visits_session_date,priority:1;index:idx_visits_session_page,priority:1" json:"sessionId" bson:"sessionId"`
	IP        string `gorm:"column:ip;not null;index:idx_visits_ip_date,priority:1" json:"-" bson:"ip"`

	Country     string   `gorm:"not null;default:Unknown;index:idx_visits_date_country,priority:2" json:"country" bson:"country"`
	CountryCode string   `gorm:"column:country_code" json:"countryCode" bson:"countryCode"`
	Region      string   `gorm:"not null;default:Unknown;index:idx_visits_date_region,priority:2" json:"region" bson:"region"`
	City        string   `gorm:"not null;default:Unknown" json:"city" bson:"city"`
	Timezone    string   `gorm:"not null;default:Unknown" json:"timezone" bson:"timezone"`
	Latitude    *float64 `json:"latitude" bson:"latitude"`
	Longitude   *float64 `json:"longitude" bson:"longitude"`

	Browser        string `gorm:"not null;default:Unknown;index:idx_visits_date_browser,priority:2" json:"browser" bson:"browser"`
	BrowserVersion string `gorm:"column:browser_version" json:"browserVersion" bson:"browserVersion"`
	OS             string `gorm:"column:os;not null;default:Unknown;index:idx_visits_date_os,priority:2" json:"os" bson:"os"`
	OSVersion      string `gorm:"column:os_version" json:"osVersion" bson:"osVersion"`
	Device         string `gorm:"not null;default:desktop;index:idx_visits_date_device,priority:2" json:"device" bson:"device"`

	UserAgent        string `gorm:"column:user_agent;type:text" json:"-" bson:"userAgent"`
	ScreenResolution string `gorm:"column:screen_resolution" json:"screenResolution" bson:"screenResolution"`
	Language         string `json:"language" bson:"language"`

	Referrer       string `gorm:"type:text" json:"referrer" bson:"referrer"`
	ReferrerSource string `gorm:"column:referrer_source" json:"referrerSource" bson:"referrerSource"`
	UTMSource      string `gorm:"column:utm_source;index" json:"utmSource" bson:"utmSource"`
	UTMMedium      string `gorm:"column:utm_medium" json:"utmMedium" bson:"utmMedium"`
	UTMCampaign    string `gorm:"column:utm_campaign" json:"utmCampaign" bson:"utmCampaign"`
	UTMTerm        string `gorm:"column:utm_term" json:"utmTerm" bson:"utmTerm"`
	UTMContent     string `gorm:"column:utm_content" json:"utmContent" bson:"utmContent"`

	Page      string `gorm:"not null;index:idx_visits_session_page,priority:2" json:"page" bson:"page"`
	PageTitle string `gorm:"column:page_title" json:"pageTitle" bson:"pageTitle"`
	ArticleID string `gorm:"column:article_id;index" json:"articleId" bson:"articleId"`

	VisitDuration int64 `gorm:"column:visit_duration;not null;default:0" json:"visitDuration" bson:"visitDuration"`
	PageViews     int64 `gorm:"column:page_views;not null;default:0" json:"pageViews" bson:"pageViews"`

	IsNewVisitor       bool `gorm:"column:is_new_visitor;not null;default:false" json:"isNewVisitor" bson:"isNewVisitor"`
	IsReturningVisitor bool `gorm:"column:is_returning_visitor;not null;default:false" json:"isReturningVisitor" bson:"isReturningVisitor"`
	IsBot              bool `gorm:"column:is_bot;not null;default:false;index" json:"isBot" bson:"isBot"`

	FirstVisit time.Time `gorm:"column:first_visit;not null" json:"firstVisit" bson:"firstVisit"`
	LastVisit  time.Time `gorm:"column:last_visit;not null" json:"lastVisit" bson:"lastVisit"`
	VisitDate  time.Time `gorm:"column:visit_date;not null;index:idx_visits_date_country,priority:1;index:idx_visits_date_region,priority:1;index:idx_visits_date_browser,priority:1;index:idx_visits_date_os,priority:1;index:idx_visits_date_device,priority:1;index:idx_visits_session_date,priority:2;index:idx_visits_ip_date,priority:2" json:"visitDate" bson:"visitDate"`

	Conversion      string `json:"conversion,omitempty" bson:"conversion,omitempty"`
	ConversionValue string `gorm:"column:conversion_value" json:"conversionValue,omitempty" bson:"conversionValue,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}
