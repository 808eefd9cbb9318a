package coerce

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Sources maps each destination field to the key it is read from in the received payload.
type Sources map[string]string

// DefaultSources matches the payload sent by the upstream master data trigger.
var DefaultSources = Sources{
	"MasterDataId":      "id",
	"UserId":            "userId",
	"Email":             "email",
	"FirstName":         "firstName",
	"LastName":          "lastName",
	"Document":          "document",
	"DocumentType":      "documentType",
	"IsNewsletterOptIn": "isNewsletterOptIn",
	"Phone":             "phone",
	"HomePhone":         "homePhone",
	"BusinessPhone":     "businessPhone",
	"BirthDate":         "birthDate",
	"BirthDateMonth":    "birthDateMonth",

	"RCLastCart":        "rclastcart",
	"RCLastCartValue":   "rclastcartvalue",
	"RCLastSession":     "rclastsession",
	"RCLastSessionDate": "rclastsessiondate",

	"CartTag":     "carttag",
	"CheckoutTag": "checkouttag",

	"Cluster":            "cluster",
	"ClusterFreteGratis": "clusterfretegratis",
	"ClusterVIP":         "ClusterVIP",
	"Funcionario":        "funcionario",
	"Gender":             "gender",
	"TradeName":          "tradeName",

	"IsCorporate":       "isCorporate",
	"CorporateName":     "corporateName",
	"CorporateDocument": "corporateDocument",
	"LocaleDefault":     "localeDefault",
	"StateRegistration": "stateRegistration",

	"CustomerClass": "customerClass",
	"PriceTables":   "priceTables",
	"TradePolicy":   "tradePolicy",

	"AccountId":         "accountId",
	"AccountName":       "accountName",
	"DataEntityId":      "dataEntityId",
	"CreatedBy":         "createdBy",
	"CreatedIn":         "createdIn",
	"UpdatedBy":         "updatedBy",
	"UpdatedIn":         "updatedIn",
	"LastInteractionBy": "lastInteractionBy",
	"LastInteractionIn": "lastInteractionIn",
	"Followers":         "followers",
	"Tags":              "tags",
	"AutoFilter":        "auto_filter",

	"HtmlUrl":        "html_url",
	"ProfilePicture": "profilePicture",
}

// With returns a copy of the sources where the given fields read from other payload keys.
// It errors on unknown fields or empty keys, so that a typo in configuration is not silently ignored.
func (s Sources) With(overrides map[string]string) (Sources, error) {
	merged := maps.Clone(s)
	if merged == nil {
		merged = Sources{}
	}

	var unknown []string
	for field, key := range overrides {
		if _, ok := DefaultSources[field]; !ok {
			unknown = append(unknown, field)
			continue
		}
		if key == "" {
			return nil, fmt.Errorf("empty source key for field %q", field)
		}
		merged[field] = key
	}

	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown destination fields: %s", strings.Join(unknown, ", "))
	}
	return merged, nil
}

// key returns the payload key for field, falling back to the default mapping.
func (s Sources) key(field string) string {
	if k, ok := s[field]; ok {
		return k
	}
	return DefaultSources[field]
}
