// Package vault reads TLS material from HashiCorp Vault.
//
// The package wraps the official Vault API client with token or AppRole
// authentication and a KV secrets engine reader (versions 1 and 2). Its
// Resolver serves vault:// resource locations to the TLS context builder:
//
//	vault://<mount>/<path>#<field>
//	vault://<mount>/<path>?encoding=base64#<field>
//
// The first form returns the field value verbatim (PEM text). The second
// decodes a base64 value, which is how binary keystores are stored.
//
// # Configuration
//
//	vault:
//	  enabled: true
//	  address: https://vault.internal:8200
//	  authMethod: approle
//	  appRole:
//	    roleId: ${VAULT_ROLE_ID}
//	    secretId: ${VAULT_SECRET_ID}
//	  kvVersion: 2
package vault
