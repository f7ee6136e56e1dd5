// Package stores provides the SQLite persistence layer for the provisioning engine:
// the device, vendor, group, variable and template catalog, plus jobs, backups and
// global settings. Schema changes ship as embedded golang-migrate migrations.
package stores
