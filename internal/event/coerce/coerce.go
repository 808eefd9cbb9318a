// Package coerce converts a parsed cart event into a typed record.
//
// Each destination field is converted independently by a total function. A field which is absent
// or cannot be converted has no value, and conversion problems worth reporting are collected as
// anomalies on the record. Coercion never fails the whole record.
package coerce

import (
	"github.com/cartwatch/cartwatch/internal/event/models"
	"github.com/jackc/pgx/v5/pgtype"
)

// Coerce builds the typed record for a parsed payload. raw is kept on the record for audit.
// A nil sources uses DefaultSources.
func Coerce(doc map[string]any, raw string, sources Sources) models.Record {
	if sources == nil {
		sources = DefaultSources
	}
	b := builder{doc: doc, sources: sources}

	r := models.Record{
		MasterDataID:      b.guid("MasterDataId"),
		UserID:            b.guid("UserId"),
		Email:             b.text("Email"),
		FirstName:         b.text("FirstName"),
		LastName:          b.text("LastName"),
		Document:          b.text("Document"),
		DocumentType:      b.text("DocumentType"),
		IsNewsletterOptIn: b.bool("IsNewsletterOptIn"),
		Phone:             b.text("Phone"),
		HomePhone:         b.text("HomePhone"),
		BusinessPhone:     b.text("BusinessPhone"),
		BirthDate:         b.date("BirthDate"),
		BirthDateMonth:    b.smallInt("BirthDateMonth"),

		RCLastCart:        b.text("RCLastCart"),
		RCLastCartValue:   b.decimal("RCLastCartValue"),
		RCLastSession:     b.guid("RCLastSession"),
		RCLastSessionDate: b.date("RCLastSessionDate"),

		CartTag:     b.text("CartTag"),
		CheckoutTag: b.text("CheckoutTag"),

		Cluster:            b.text("Cluster"),
		ClusterFreteGratis: b.text("ClusterFreteGratis"),
		ClusterVIP:         b.text("ClusterVIP"),
		Funcionario:        b.text("Funcionario"),
		Gender:             b.text("Gender"),
		TradeName:          b.text("TradeName"),

		IsCorporate:       b.bool("IsCorporate"),
		CorporateName:     b.text("CorporateName"),
		CorporateDocument: b.text("CorporateDocument"),
		LocaleDefault:     b.text("LocaleDefault"),
		StateRegistration: b.text("StateRegistration"),

		CustomerClass: b.text("CustomerClass"),
		PriceTables:   b.text("PriceTables"),
		TradePolicy:   b.text("TradePolicy"),

		AccountID:         b.guid("AccountId"),
		AccountName:       b.text("AccountName"),
		DataEntityID:      b.text("DataEntityId"),
		CreatedBy:         b.text("CreatedBy"),
		CreatedIn:         b.date("CreatedIn"),
		UpdatedBy:         b.text("UpdatedBy"),
		UpdatedIn:         b.date("UpdatedIn"),
		LastInteractionBy: b.text("LastInteractionBy"),
		LastInteractionIn: b.date("LastInteractionIn"),
		Followers:         b.text("Followers"),
		Tags:              b.text("Tags"),
		AutoFilter:        b.text("AutoFilter"),

		HTMLURL:        b.text("HtmlUrl"),
		ProfilePicture: b.text("ProfilePicture"),

		RawJSON: raw,
	}
	r.Anomalies = b.anomalies

	return r
}

// builder looks up source values and records the anomalies of the conversions.
type builder struct {
	doc       map[string]any
	sources   Sources
	anomalies []models.FieldAnomaly
}

func (b *builder) value(field string) (key string, v any) {
	key = b.sources.key(field)
	return key, b.doc[key]
}

func (b *builder) anomaly(field, key string, err error) {
	b.anomalies = append(b.anomalies, models.FieldAnomaly{Field: field, Source: key, Reason: err.Error()})
}

// text is used both for bounded strings and unbounded free text: length limits belong to storage.
func (b *builder) text(field string) pgtype.Text {
	_, v := b.value(field)
	return String(v)
}

func (b *builder) bool(field string) pgtype.Bool {
	_, v := b.value(field)
	return Bool(v)
}

func (b *builder) guid(field string) pgtype.UUID {
	_, v := b.value(field)
	return GUID(v)
}

func (b *builder) decimal(field string) pgtype.Numeric {
	key, v := b.value(field)
	n, err := Decimal(v)
	if err != nil {
		b.anomaly(field, key, err)
	}
	return n
}

func (b *builder) smallInt(field string) pgtype.Int2 {
	key, v := b.value(field)
	i, err := SmallInt(v)
	if err != nil {
		b.anomaly(field, key, err)
	}
	return i
}

func (b *builder) date(field string) pgtype.Timestamptz {
	key, v := b.value(field)
	d, err := Date(v)
	if err != nil {
		b.anomaly(field, key, err)
	}
	return d
}
