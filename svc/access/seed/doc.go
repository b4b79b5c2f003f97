// Package seed loads the role hierarchy, the permission catalog, role
// grants, IP rules and user assignments from a YAML file and writes them
// to a store.
//
//	permissions:
//	  - name: view-laboratory
//	    risk_level: 1
//	  - name: edit-lab-tests
//	    risk_level: 2
//	    requires: [view-laboratory]
//	roles:
//	  - slug: staff
//	    name: Staff
//	    priority: 100
//	    permissions: [view-laboratory]
//	  - slug: lab-technician
//	    parent: staff
//	    priority: 60
//	    permissions: [edit-lab-tests]
//	ip_rules:
//	  - pattern: 10.0.0.0/8
//	    type: deny
//	users:
//	  - id: tech-1
//	    role: lab-technician
//
// Everything is validated before the first write.
package seed
