package vcard

import "github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"

// PublicView is what a visitor sees; payment fields stay private.
type PublicView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Designation string `json:"designation,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Mobile      string `json:"mobile"`
	Email       string `json:"email"`
	Website     string `json:"website,omitempty"`
	Address     string `json:"address,omitempty"`
	QRCode      string `json:"qr_code"`
}

func ToPublicView(c *vcard.VCard) PublicView {
	return PublicView{
		ID:          c.ID,
		Name:        c.Name,
		Designation: c.Designation,
		CompanyName: c.CompanyName,
		Mobile:      c.Mobile,
		Email:       c.Email,
		Website:     c.Website,
		Address:     c.Address,
		QRCode:      c.QRCode,
	}
}
