// Package models provides the data structures produced by the cart event pipeline.
package models

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// Record is the typed representation of one abandoned cart event, shaped after the destination table.
//
// Every field is independently optional: a field which was absent or could not be converted is left
// invalid rather than failing the whole record.
type Record struct {
	MasterDataID      pgtype.UUID
	UserID            pgtype.UUID
	Email             pgtype.Text
	FirstName         pgtype.Text
	LastName          pgtype.Text
	Document          pgtype.Text
	DocumentType      pgtype.Text
	IsNewsletterOptIn pgtype.Bool
	Phone             pgtype.Text
	HomePhone         pgtype.Text
	BusinessPhone     pgtype.Text
	BirthDate         pgtype.Timestamptz
	BirthDateMonth    pgtype.Int2

	RCLastCart        pgtype.Text
	RCLastCartValue   pgtype.Numeric
	RCLastSession     pgtype.UUID
	RCLastSessionDate pgtype.Timestamptz

	CartTag     pgtype.Text
	CheckoutTag pgtype.Text

	Cluster            pgtype.Text
	ClusterFreteGratis pgtype.Text
	ClusterVIP         pgtype.Text
	Funcionario        pgtype.Text
	Gender             pgtype.Text
	TradeName          pgtype.Text

	IsCorporate       pgtype.Bool
	CorporateName     pgtype.Text
	CorporateDocument pgtype.Text
	LocaleDefault     pgtype.Text
	StateRegistration pgtype.Text

	CustomerClass pgtype.Text
	PriceTables   pgtype.Text
	TradePolicy   pgtype.Text

	AccountID         pgtype.UUID
	AccountName       pgtype.Text
	DataEntityID      pgtype.Text
	CreatedBy         pgtype.Text
	CreatedIn         pgtype.Timestamptz
	UpdatedBy         pgtype.Text
	UpdatedIn         pgtype.Timestamptz
	LastInteractionBy pgtype.Text
	LastInteractionIn pgtype.Timestamptz
	Followers         pgtype.Text
	Tags              pgtype.Text
	AutoFilter        pgtype.Text

	HTMLURL        pgtype.Text
	ProfilePicture pgtype.Text

	// RawJSON is the payload exactly as received, kept for audit.
	RawJSON string

	// Anomalies lists the fields which were present but could not be converted. It is not persisted.
	Anomalies []FieldAnomaly
}

// Column is a destination column name and the value to store in it.
type Column struct {
	Name  string
	Value any
}

// Columns returns the destination columns of the record, in table order.
func (r *Record) Columns() []Column {
	return []Column{
		{"master_data_id", r.MasterDataID},
		{"user_id", r.UserID},
		{"email", r.Email},
		{"first_name", r.FirstName},
		{"last_name", r.LastName},
		{"document", r.Document},
		{"document_type", r.DocumentType},
		{"is_newsletter_opt_in", r.IsNewsletterOptIn},
		{"phone", r.Phone},
		{"home_phone", r.HomePhone},
		{"business_phone", r.BusinessPhone},
		{"birth_date", r.BirthDate},
		{"birth_date_month", r.BirthDateMonth},
		{"rc_last_cart", r.RCLastCart},
		{"rc_last_cart_value", r.RCLastCartValue},
		{"rc_last_session", r.RCLastSession},
		{"rc_last_session_date", r.RCLastSessionDate},
		{"cart_tag", r.CartTag},
		{"checkout_tag", r.CheckoutTag},
		{"cluster", r.Cluster},
		{"cluster_frete_gratis", r.ClusterFreteGratis},
		{"cluster_vip", r.ClusterVIP},
		{"funcionario", r.Funcionario},
		{"gender", r.Gender},
		{"trade_name", r.TradeName},
		{"is_corporate", r.IsCorporate},
		{"corporate_name", r.CorporateName},
		{"corporate_document", r.CorporateDocument},
		{"locale_default", r.LocaleDefault},
		{"state_registration", r.StateRegistration},
		{"customer_class", r.CustomerClass},
		{"price_tables", r.PriceTables},
		{"trade_policy", r.TradePolicy},
		{"account_id", r.AccountID},
		{"account_name", r.AccountName},
		{"data_entity_id", r.DataEntityID},
		{"created_by", r.CreatedBy},
		{"created_in", r.CreatedIn},
		{"updated_by", r.UpdatedBy},
		{"updated_in", r.UpdatedIn},
		{"last_interaction_by", r.LastInteractionBy},
		{"last_interaction_in", r.LastInteractionIn},
		{"followers", r.Followers},
		{"tags", r.Tags},
		{"auto_filter", r.AutoFilter},
		{"html_url", r.HTMLURL},
		{"profile_picture", r.ProfilePicture},
		{"raw_json", r.RawJSON},
	}
}

// FieldAnomaly is a non fatal conversion problem for a single field.
// The field is stored without value and the rest of the record is kept.
type FieldAnomaly struct {
	Field  string // Destination field name.
	Source string // Key in the received payload.
	Reason string
}

func (a FieldAnomaly) String() string {
	return fmt.Sprintf("%s (from %q): %s", a.Field, a.Source, a.Reason)
}
