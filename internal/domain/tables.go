package domain

var Tables = []interface{}{
	&SysConfig{},
	&SysPartner{},
	&CrmLead{},
	&WhatsAppAccount{},
	&WhatsAppContact{},
	&WhatsAppGroup{},
	&WhatsAppGroupMember{},
	&WhatsAppMessage{},
	&WhatsAppBulkJob{},
	&WhatsAppTemplate{},
}
