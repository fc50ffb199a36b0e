package capability

// DefaultCatalog returns the compiled-in platform capability set. Deployments
// that manage capabilities through configuration use LoadCatalog instead;
// the defaults cover the built-in spaces and the sensitive-action workflow.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultCapabilities())
	if err != nil {
		// The compiled set is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}

func defaultCapabilities() []Capability {
	return []Capability{
		// Support
		{Code: "tickets.read", Category: "support", Description: "View support tickets"},
		{Code: "tickets.create", Category: "support", Description: "Open support tickets"},
		{Code: "tickets.update", Category: "support", Description: "Edit support tickets"},
		{Code: "tickets.delete", Category: "support", Description: "Delete support tickets"},
		{Code: "tickets.assign", Category: "support", Description: "Assign tickets to agents"},
		{Code: "tickets.close", Category: "support", Description: "Close tickets"},
		{Code: "tickets.reopen", Category: "support", Description: "Reopen closed tickets"},
		{Code: "tickets.export", Category: "support", Description: "Export ticket data"},
		{Code: "customers.read", Category: "support", Description: "View customer records"},
		{Code: "customers.update", Category: "support", Description: "Edit customer records"},
		{Code: "kb.read", Category: "support", Description: "Read the knowledge base"},
		{Code: "kb.manage", Category: "support", Description: "Manage knowledge base articles"},

		// DevOps
		{Code: "servers.read", Category: "devops", Description: "View server inventory"},
		{Code: "servers.manage", Category: "devops", Description: "Manage server configuration"},
		{Code: "deployments.read", Category: "devops", Description: "View deployments"},
		{Code: "deployments.create", Category: "devops", Description: "Trigger deployments"},
		{Code: "deployments.rollback", Category: "devops", Description: "Roll back deployments"},
		{Code: "logs.read", Category: "devops", Description: "Read service logs"},
		{Code: "logs.export", Category: "devops", Description: "Export service logs"},
		{Code: "monitoring.read", Category: "devops", Description: "View monitoring dashboards"},
		{Code: "monitoring.manage", Category: "devops", Description: "Manage monitors and alerts"},
		{Code: "database.read", Category: "devops", Description: "Read database state"},
		{Code: "database.backup", Category: "devops", Description: "Create database backups"},
		{Code: "database.restore", Category: "devops", Description: "Restore database backups"},
		{Code: "secrets.read", Category: "devops", Description: "Read managed secrets"},
		{Code: "secrets.manage", Category: "devops", Description: "Manage secrets"},
		{Code: "incidents.manage", Category: "devops", Description: "Manage incidents"},

		// Finance
		{Code: "invoices.read", Category: "finance", Description: "View invoices"},
		{Code: "invoices.create", Category: "finance", Description: "Create invoices"},
		{Code: "invoices.update", Category: "finance", Description: "Edit invoices"},
		{Code: "invoices.delete", Category: "finance", Description: "Delete invoices"},
		{Code: "payments.read", Category: "finance", Description: "View payments"},
		{Code: "payments.process", Category: "finance", Description: "Process payments"},
		{Code: "refunds.create", Category: "finance", Description: "Issue refunds"},
		{Code: "refunds.approve", Category: "finance", Description: "Approve refunds"},
		{Code: "subscriptions.read", Category: "finance", Description: "View subscriptions"},
		{Code: "subscriptions.manage", Category: "finance", Description: "Manage subscriptions"},
		{Code: "reports.financial", Category: "finance", Description: "View financial reports"},
		{Code: "analytics.revenue", Category: "finance", Description: "View revenue analytics"},

		// Marketing
		{Code: "campaigns.read", Category: "marketing", Description: "View campaigns"},
		{Code: "campaigns.create", Category: "marketing", Description: "Create campaigns"},
		{Code: "campaigns.update", Category: "marketing", Description: "Edit campaigns"},
		{Code: "campaigns.delete", Category: "marketing", Description: "Delete campaigns"},
		{Code: "emails.send", Category: "marketing", Description: "Send marketing email"},
		{Code: "emails.templates", Category: "marketing", Description: "Manage email templates"},
		{Code: "analytics.marketing", Category: "marketing", Description: "View marketing analytics"},
		{Code: "leads.read", Category: "marketing", Description: "View leads"},
		{Code: "leads.manage", Category: "marketing", Description: "Manage leads"},
		{Code: "content.publish", Category: "marketing", Description: "Publish content"},

		// Platform administration
		{Code: "users.read", Category: "platform", Description: "View platform users"},
		{Code: "users.create", Category: "platform", Description: "Create users"},
		{Code: "users.update", Category: "platform", Description: "Edit users"},
		{Code: "users.delete", Category: "platform", Description: "Delete users"},
		{Code: "users.export", Category: "platform", Description: "Export user data"},
		{Code: "roles.read", Category: "platform", Description: "View space roles"},
		{Code: "roles.manage", Category: "platform", Description: "Manage space roles"},
		{Code: "settings.read", Category: "platform", Description: "View settings"},
		{Code: "settings.manage", Category: "platform", Description: "Manage settings"},
		{Code: "audit.read", Category: "platform", Description: "Read the audit trail"},
		{Code: "audit.export", Category: "platform", Description: "Export audit entries"},
		{Code: "impersonate.user", Category: "platform", Description: "Impersonate a user"},

		// Sensitive-action workflow
		{Code: "auth.2fa_reset.request", Category: "auth", Description: "Request a 2FA reset for a user"},
		{Code: "auth.2fa_reset.review", Category: "auth", Description: "Review a pending 2FA reset"},
		{Code: "auth.2fa_reset.execute", Category: "auth", Description: "Execute an approved 2FA reset"},
		{Code: "auth.impersonation.request", Category: "auth", Description: "Request a user impersonation session"},
		{Code: "auth.impersonation.review", Category: "auth", Description: "Review a pending impersonation request"},
		{Code: "auth.impersonation.execute", Category: "auth", Description: "Execute an approved impersonation"},
	}
}
